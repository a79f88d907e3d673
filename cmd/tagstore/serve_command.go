package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/tagstore/internal/metrics"
	"github.com/nainya/tagstore/internal/server"
	"github.com/nainya/tagstore/internal/tracing"
	"github.com/nainya/tagstore/pkg/resolve"
)

const maxMessageSize = 16 * 1024 * 1024

func newServeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tag tools over gRPC",
		Long: "Open the scene and serve search and provenance calls over gRPC. " +
			"Metrics, health and pprof are served on the metrics port unless it is 0.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return ctx.serve(sigCtx)
		},
	}
	flags := cmd.Flags()
	flags.String("addr", "", "gRPC listen address")
	flags.Int("metrics-port", 0, "Observability HTTP port (0 disables)")
	_ = ctx.v.BindPFlag("server.grpc_addr", flags.Lookup("addr"))
	_ = ctx.v.BindPFlag("server.metrics_port", flags.Lookup("metrics-port"))
	return cmd
}

// serve runs until ctx is cancelled or a listener fails.
func (c *commandContext) serve(ctx context.Context) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	log := c.logs()
	log.LogServerStart(cfg.Server.GrpcAddr, cfg.Scene.Path)

	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("Tracing shutdown failed").Err(err).Send()
		}
	}()

	h, err := c.openScene(ctx)
	if err != nil {
		return err
	}
	defer h.Close()
	reg, err := c.registry()
	if err != nil {
		return err
	}

	// A server has no terminal to prompt on.
	chooser := c.chooser
	if chooser == nil {
		if chooser, err = resolve.ParsePolicy(cfg.Resolve.Policy, nil); err != nil {
			return err
		}
	}

	m := metrics.NewMetrics()
	srv, err := server.NewServer(ctx, server.Options{
		Scene:       h,
		Registry:    reg,
		Departments: cfg.Catalogs.Departments,
		Chooser:     chooser,
		User:        cfg.Metadata.User,
		Attribute:   cfg.Metadata.Attribute,
		CacheTTL:    time.Duration(cfg.Search.CacheTTLSeconds) * time.Second,
		Metrics:     m,
		Logger:      log,
		Tracer:      tp.Tracer(),
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	lis, err := net.Listen("tcp", cfg.Server.GrpcAddr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", cfg.Server.GrpcAddr)
	}
	grpcServer := server.NewGRPCServer(srv, m, log, tp.Tracer(),
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
	)
	reflection.Register(grpcServer)

	var ready atomic.Bool
	errCh := make(chan error, 2)
	stopUptime := make(chan struct{})
	defer close(stopUptime)
	go m.UpdateUptime(10*time.Second, stopUptime)

	var obs *server.ObservabilityServer
	if cfg.Server.MetricsPort > 0 {
		obs = server.NewObservabilityServer(cfg.Server.MetricsPort, m.Registry(), ready.Load, log)
		go func() {
			if err := obs.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- errors.Wrap(err, "grpc server failed")
		}
	}()
	ready.Store(true)
	log.LogServerReady(lis.Addr().String())

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	ready.Store(false)
	log.LogServerShutdown()
	grpcServer.GracefulStop()
	if obs != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			serveErr = errors.CombineErrors(serveErr, err)
		}
	}
	if serveErr == nil {
		serveErr = h.save()
	}
	return serveErr
}
