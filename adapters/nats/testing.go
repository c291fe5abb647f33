package nats

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type Testing interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Cleanup(func())
}

// NewTestContainer starts a throwaway NATS server with JetStream enabled
// and returns a Connector pointing at it. The container is terminated on
// test cleanup.
func NewTestContainer(t Testing) Connector {
	ctx := t.Context()
	container, err := testcontainers.Run(
		ctx, "nats:2.10-alpine",
		testcontainers.WithCmd("-js"),
		testcontainers.WithExposedPorts("4222/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("4222/tcp"),
			wait.ForLog("Server is ready"),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222/tcp")
	require.NoError(t, err)

	url := fmt.Sprintf("nats://%s:%s", host, port.Port())
	t.Logf("nats server: %s", url)
	return ConnectURL(url)
}
