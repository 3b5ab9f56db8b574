package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/23skdu/longbow-softmax/internal/arrowop"
	"github.com/23skdu/longbow-softmax/internal/config"
	"github.com/23skdu/longbow-softmax/internal/flightsvc"
	"github.com/23skdu/longbow-softmax/internal/kernel"
	"github.com/23skdu/longbow-softmax/internal/monitoring"
)

func newServeCmd(a *app) *cobra.Command {
	def := config.Default()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve softmax over Arrow Flight with health and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().String("flight-addr", def.FlightAddr, "Arrow Flight listen address")
	cmd.Flags().String("metrics-addr", def.MetricsAddr, "health and Prometheus metrics listen address")
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := flightsvc.NewServer(arrowop.New(a.driver, nil))
	if err := srv.Init(a.cfg.FlightAddr); err != nil {
		return err
	}
	flightAddr := srv.Addr().String()

	hm := monitoring.NewHealthMonitor(monitoring.EngineInfo{
		Workers:             a.pool.NumWorkers(),
		MinParallelElements: a.cfg.MinParallelElements,
		RowBatch:            a.cfg.RowBatch,
		ExpImpl:             kernel.ExpName,
		FlightAddr:          flightAddr,
	})
	hm.AddCheck("flight", func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", flightAddr)
		if err != nil {
			return err
		}
		return conn.Close()
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return hm.Start(a.cfg.MetricsAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		srv.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hm.Stop(sctx)
	})
	return g.Wait()
}
