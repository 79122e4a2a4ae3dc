package main

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/trackline/internal/server"
	"github.com/desertthunder/trackline/internal/shared"
)

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API together with the workers and the reconciler",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default: server.host:server.port from config)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Gin debug mode; internal error text is returned to clients",
			},
			&cli.BoolFlag{
				Name:  "no-workers",
				Usage: "Serve the API only; jobs are consumed by separate worker processes",
			},
		},
		Action: r.Serve,
	}
}

func workerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "worker",
		Usage:  "Run the job workers and the reconciler without the HTTP API",
		Action: r.Worker,
	}
}

// Serve runs the API until the process is interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config
	debug := cfg.Server.Debug || cmd.Bool("debug")
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := shared.NewLoggerFromConfig(cfg.Logging)
	r.SetLogger(logger)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv := server.New(a.engine, a.dispatcher, server.Options{
		Debug:       debug,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
	})

	addr := cmd.String("addr")
	if addr == "" {
		addr = cfg.Server.Addr()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx, addr) })
	if !cmd.Bool("no-workers") {
		g.Go(func() error { return a.dispatcher.Run(gctx) })
		g.Go(func() error { return a.reconciler.Run(gctx) })
	}
	return ignoreCancel(g.Wait())
}

// Worker consumes jobs until the process is interrupted. Only useful with a shared broker.
func (r *Runner) Worker(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config
	logger := shared.NewLoggerFromConfig(cfg.Logging)
	r.SetLogger(logger)

	if cfg.Queue.Broker == "" || cfg.Queue.Broker == "memory" {
		logger.Warn("the memory broker is not shared between processes; jobs enqueued by the API will not reach this worker")
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Run(gctx) })
	g.Go(func() error { return a.reconciler.Run(gctx) })
	return ignoreCancel(g.Wait())
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
