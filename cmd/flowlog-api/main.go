package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"FlowTagger/internal/config"
	"FlowTagger/internal/store"

	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	app := &cli.App{
		Name:  "flowlog-api",
		Usage: "serve flow log analysis and stored runs over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "configs/config.yaml", Usage: "path to the YAML config file"},
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides api.listen_addr)"},
		},
		Action: serve,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	// 1. Load configuration
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("listen") {
		cfg.API.ListenAddr = c.String("listen")
	}
	log.Println("Configuration loaded successfully.")

	// 2. Open the run store of the first enabled sqlite writer, if any
	var runStore *store.Store
	if def, ok := cfg.FirstEnabledWriter("sqlite"); ok {
		runStore, err = store.Open(def.SQLite.Path)
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		defer runStore.Close()
		log.Printf("Serving stored runs from %s", runStore.Path())
	} else {
		log.Println("No enabled sqlite writer found in config; run lookups are disabled.")
	}

	// 3. Start the gRPC health service
	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.API.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.API.GRPCListenAddr, err)
	}
	go func() {
		log.Printf("gRPC health server starting on %s", cfg.API.GRPCListenAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("gRPC server stopped: %v", err)
		}
	}()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// 4. Start HTTP server
	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: newRouter(NewAPIHandler(cfg, runStore)),
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// 5. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		grpcServer.Stop()
		return fmt.Errorf("could not listen on %s: %w", server.Addr, err)
	}
	log.Println("API server shutting down...")
	healthServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownGrace())
	defer cancel()

	grpcServer.GracefulStop()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Println("API server exited.")
	return nil
}
