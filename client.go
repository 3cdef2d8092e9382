package omnistore

import (
	"context"
	"io"

	"github.com/emrgen/omnistore/internal/server"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client checks a running server over grpc.
type Client interface {
	io.Closer
	// Healthy reports whether the server is serving.
	Healthy(ctx context.Context) (bool, error)
}

type client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

func NewClient(addr string) (Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(server.UnaryRequestTimeInterceptor()),
	)
	if err != nil {
		return nil, err
	}
	return &client{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
	}, nil
}

func (c *client) Healthy(ctx context.Context) (bool, error) {
	res, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, err
	}
	return res.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func (c *client) Close() error {
	return c.conn.Close()
}
