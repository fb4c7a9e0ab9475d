package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/nilusink/trackfusion/app"
)

func main() {
	cmd := &cli.Command{
		Name:  "trackfusion",
		Usage: "Fuse camera bearings into 3D tracks and broadcast them to GUI consumers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Category: "server",
				Name:     "server.listen",
				Aliases:  []string{"listen", "l"},
				Value:    ":7000",
				Sources:  cli.EnvVars("TRACKFUSION_LISTEN"),
				Usage:    "`ADDRESS` the broadcast server listens on",
			},
			&cli.StringFlag{
				Category: "upstream",
				Name:     "upstream.addr",
				Aliases:  []string{"upstream", "u"},
				Value:    "127.0.0.1:7001",
				Sources:  cli.EnvVars("TRACKFUSION_UPSTREAM"),
				Usage:    "`ADDRESS` of the upstream camera tracker to connect to",
			},
			&cli.StringFlag{
				Category: "monitoring",
				Name:     "metrics.listen",
				Value:    ":9090",
				Sources:  cli.EnvVars("TRACKFUSION_METRICS_LISTEN"),
				Usage:    "`ADDRESS` the Prometheus /metrics endpoint listens on",
			},
			&cli.StringFlag{
				Category: "monitoring",
				Name:     "tracing.endpoint",
				Aliases:  []string{"tracing", "t"},
				Value:    "",
				Sources:  cli.EnvVars("TRACKFUSION_TRACING_ENDPOINT"),
				Usage:    "OpenTelemetry collector `ENDPOINT` for traces",
			},
			&cli.BoolFlag{
				Category: "monitoring",
				Name:     "debug",
				Aliases:  []string{"d"},
				Sources:  cli.EnvVars("TRACKFUSION_DEBUG"),
				Usage:    "Enable debug logging",
			},
		},
		Action: app.Run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
