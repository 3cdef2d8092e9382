package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/emrgen/omnistore"
	"github.com/emrgen/omnistore/internal/config"
	"github.com/emrgen/omnistore/internal/server"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var grpcPort string
	var httpPort string

	command := &cobra.Command{
		Use:   "serve",
		Short: "run the api server and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cmd.Flag("grpc-port").Changed {
				cfg.GrpcPort = grpcPort
			}
			if cmd.Flag("http-port").Changed {
				cfg.HttpPort = httpPort
			}
			return server.Start(cfg)
		},
	}

	command.Flags().StringVar(&grpcPort, "grpc-port", "", "grpc port (overrides GRPC_PORT)")
	command.Flags().StringVar(&httpPort, "http-port", "", "http port (overrides HTTP_PORT)")

	return command
}

func healthCmd() *cobra.Command {
	var addr string

	command := &cobra.Command{
		Use:   "health",
		Short: "check that a server is serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := omnistore.NewClient(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			ok, err := client.Healthy(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is not serving", addr)
			}
			fmt.Println("serving")
			return nil
		},
	}

	command.Flags().StringVar(&addr, "addr", "localhost:4000", "grpc address")

	return command
}
