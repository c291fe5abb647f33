// Package sf wraps golang.org/x/sync/singleflight with a typed API.
package sf
