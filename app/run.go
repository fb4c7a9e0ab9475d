// Package app wires the process together: telemetry, the worker pool,
// the tracking coordinator and the client/server data endpoints. Flags
// come in, components start, and the process blocks until shutdown.
package app

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/nilusink/trackfusion/client"
	"github.com/nilusink/trackfusion/internal/telemetry"
	"github.com/nilusink/trackfusion/internal/workerpool"
	"github.com/nilusink/trackfusion/server"
	"github.com/nilusink/trackfusion/tracking"
)

// Run is the CLI action. It wires the two data-flow ends named in the
// component overview: a DataClient connects out to the upstream camera
// tracker and feeds the tracking coordinator, which in turn publishes
// solved 3D fixes through a DataServer to downstream GUI consumers. It
// blocks until either the process receives a shutdown signal or a line
// arrives on standard input (interactive stop).
func Run(ctx context.Context, c *cli.Command) error {
	if c.Bool("debug") {
		telemetry.SetLevelByName(telemetry.Default, "debug")
	}

	shutdownTracer := telemetry.InitTracer(c.String("tracing.endpoint"), "trackfusion")
	defer shutdownTracer()

	metricsSrv, err := telemetry.ServeMetrics(c.String("metrics.listen"))
	if err != nil {
		return fmt.Errorf("app: metrics listener: %w", err)
	}
	defer telemetry.ShutdownMetrics(metricsSrv)

	pool := workerpool.New(telemetry.Default)

	dataServer := server.New(c.String("server.listen"), nil, pool, telemetry.Default)
	coordinator := tracking.New(dataServer, telemetry.Default)
	dataServer.SetRegistry(coordinator)

	if err := dataServer.Start(); err != nil {
		return fmt.Errorf("app: start server: %w", err)
	}

	upstream := client.New(c.String("upstream.addr"), coordinator.UpdateTracks, coordinator.UpdateCams, pool, telemetry.Default)
	if err := upstream.Start(); err != nil {
		telemetry.Default.Errorf("app: upstream connection failed: %v", err)
	}

	telemetry.Default.Infof("trackfusion started")

	stdinLine := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Scan()
		close(stdinLine)
	}()

	select {
	case <-ctx.Done():
		telemetry.Default.Infof("app: shutdown signal received")
	case <-stdinLine:
		telemetry.Default.Infof("app: stdin line received, shutting down")
	}

	upstream.Stop()
	dataServer.Stop()
	pool.Wait()
	return nil
}
