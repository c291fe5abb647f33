package nats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/formstream/eventcore/core/es"
	"github.com/formstream/eventcore/ports/kv"
)

func TestNats_KvStore(t *testing.T) {
	type formSummary struct {
		Title     string
		Responses int
	}

	connectNats := NewTestContainer(t)
	store, err := NewKvStore(KvConfig{
		Bucket:  "forms",
		Connect: connectNats,
	})
	require.NoError(t, err)

	_, err = kv.Get[formSummary](t.Context(), store, "form-1")
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, kv.Put(t.Context(), store, "form-1", &formSummary{Title: "Feedback", Responses: 12}, kv.PutOptions{}))

	v, err := kv.Get[formSummary](t.Context(), store, "form-1")
	require.NoError(t, err)
	require.Equal(t, &formSummary{Title: "Feedback", Responses: 12}, v)

	require.NoError(t, store.Delete(t.Context(), "form-1"))
	_, err = kv.Get[formSummary](t.Context(), store, "form-1")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestNats_Snapshotter(t *testing.T) {
	connectNats := NewTestContainer(t)
	snaps, err := NewSnapshotter(KvConfig{
		Bucket:  "snapshots",
		Connect: connectNats,
	})
	require.NoError(t, err)

	_, err = snaps.Latest(t.Context(), "form-1")
	require.ErrorIs(t, err, es.ErrSnapshotNotFound)

	require.NoError(t, snaps.Save(t.Context(), es.NewSnapshot("form", "form-1", 4, []byte(`{"fields":2}`))))

	got, err := snaps.Latest(t.Context(), "form-1")
	require.NoError(t, err)
	require.Equal(t, es.Version(4), got.Version)

	// An older snapshot never replaces a newer one.
	require.NoError(t, snaps.Save(t.Context(), es.NewSnapshot("form", "form-1", 2, []byte(`{"fields":1}`))))
	got, err = snaps.Latest(t.Context(), "form-1")
	require.NoError(t, err)
	require.Equal(t, es.Version(4), got.Version)
}
