package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gridmesh/gridmesh/api"
	"github.com/gridmesh/gridmesh/config"
	"github.com/gridmesh/gridmesh/coordinator"
	"github.com/gridmesh/gridmesh/pkg/logger"
	"github.com/gridmesh/gridmesh/pkg/metrics"
	"github.com/gridmesh/gridmesh/storage"
	"github.com/gridmesh/gridmesh/transport"
)

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the coordinator node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("config"))
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
}

func run(cfg *config.Config) error {
	log := logger.NewWithLevel("coordinatord", cfg.Node.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var archive coordinator.Archiver
	if cfg.Archive.Enabled {
		pg, err := storage.NewPostgresArchive(cfg.Archive.ConnString())
		if err != nil {
			return err
		}
		defer pg.Close()
		archive = pg
		log.Info("archive store connected", "host", cfg.Archive.Host)
	}

	coord := coordinator.New(coordinator.Config{
		Params:     cfg.Params(),
		Address:    cfg.Node.Address,
		Transport:  transport.NewInMem(),
		Archive:    archive,
		Registerer: reg,
		Logger:     log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord.Start(ctx)
	defer coord.Stop()

	apiSrv := api.NewServer(cfg.API, coord, log.With("part", "api"), reg)
	go func() {
		if err := apiSrv.Start(); err != nil {
			log.Error("API server failed", "error", err)
			stop()
		}
	}()

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Port, reg)
		go func() {
			if err := metricsSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiSrv.Stop(shutdownCtx); err != nil {
		log.Error("API shutdown failed", "error", err)
	}
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		log.Error("metrics shutdown failed", "error", err)
	}
	return nil
}
