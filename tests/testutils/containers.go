package testutils

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/nats-io/nats.go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	NATSContainerImage = "nats:latest"
	NATSPort           = "4222/tcp"
)

// NATSContainer wraps a NATS JetStream testcontainer used by the
// integration suite to drive the consumption loop against a real bus.
type NATSContainer struct {
	container testcontainers.Container
	uri       string
}

func StartNATSContainer(ctx context.Context) (*NATSContainer, error) {
	req := testcontainers.ContainerRequest{ //nolint:exhaustruct // optional config
		Name:         "testcontainers-graphsync-nats",
		Image:        NATSContainerImage,
		ExposedPorts: []string{NATSPort},
		Cmd:          []string{"-js"},
		WaitingFor: wait.ForListeningPort(NATSPort).
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx,
		testcontainers.GenericContainerRequest{ //nolint:exhaustruct // optional config
			ContainerRequest: req,
			Started:          true,
			Reuse:            true,
		})
	if err != nil {
		return nil, fmt.Errorf("start NATS container: %w", err)
	}

	mappedPort, err := container.MappedPort(ctx, nat.Port(NATSPort))
	if err != nil {
		return nil, fmt.Errorf("get mapped port of NATS container: %w", err)
	}

	uri := net.JoinHostPort("127.0.0.1", mappedPort.Port())

	return &NATSContainer{container: container, uri: uri}, nil
}

// GetURI returns the NATS connection URI (host:port, no scheme).
func (n *NATSContainer) GetURI() string {
	return n.uri
}

// GetConnection dials a fresh *nats.Conn against the container.
func (n *NATSContainer) GetConnection() (*nats.Conn, error) {
	conn, err := nats.Connect("nats://" + n.uri)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

// Stop terminates the container unless test-container reuse is enabled.
func (n *NATSContainer) Stop(ctx context.Context) error {
	if os.Getenv("GRAPHSYNC_REUSE_TESTCONTAINERS") == "true" {
		return nil
	}
	if err := n.container.Terminate(ctx); err != nil {
		return fmt.Errorf("stop NATS container: %w", err)
	}
	return nil
}
