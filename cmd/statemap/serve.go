package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/statemap/internal/api"
	"github.com/samcharles93/statemap/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rateLimit   float64
		maxPlans    int
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the planning REST API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.FloatFlag{
				Name:        "rate-limit",
				Usage:       "requests per second across all clients (0 = unlimited)",
				Destination: &rateLimit,
			},
			&cli.IntFlag{
				Name:        "max-plans",
				Usage:       "plans kept for GET /v1/plan/:id before the oldest is evicted",
				Value:       256,
				Destination: &maxPlans,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, LoadConfig(), &addr, &rateLimit)

			server := api.NewServer(api.NewPlanStore(maxPlans), log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			if l := api.NewLimiter(rateLimit); l != nil {
				e.Use(api.RateLimit(l))
			}
			server.Register(e)
			log.Info("starting server", "address", addr, "rate_limit", rateLimit)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
