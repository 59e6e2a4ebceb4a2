// Command supervisor runs the detection supervisor daemon: it watches the
// configured CCTV streams, raises parking-violation candidates, analyzes
// them, and reports confirmed events to the backend.
//
// Exit codes: 0 clean shutdown, 1 fatal config error, 2 no streams
// available at startup (backend unreachable and no local fallback),
// 3 unhandled internal error.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/odsyjr2/detection-supervisor/internal/config"
	"github.com/odsyjr2/detection-supervisor/internal/supervisor"
	"github.com/odsyjr2/detection-supervisor/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "supervisor.yaml", "path to the YAML configuration file")
		replay     = flag.Bool("replay", false, "run configured file-backed streams to completion, then exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "supervisor:", err)
		return supervisor.ExitFatalConfig
	}

	log := telemetry.NewJSON(os.Stdout, slog.LevelInfo)

	sup := supervisor.New(supervisor.Config{Cfg: cfg, Logger: log})

	if addr := cfg.Supervisor.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", sup.Metrics().Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WarnCtx(context.Background(), "metrics listener failed", "addr", addr, "error", err)
			}
		}()
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *replay {
		go watchReplay(ctx, sup, stop)
	}

	return sup.Run(ctx)
}

// watchReplay drives batch mode: a spinner ticks while producers are
// running, and once every stream has been retired the supervisor is asked
// to shut down.
func watchReplay(ctx context.Context, sup *supervisor.Supervisor, stop func()) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("replaying streams"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
	)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	// Give startStream a moment before treating zero streams as done.
	started := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		_ = bar.Add(1)
		n := sup.ActiveStreamCount()
		if n > 0 {
			started = true
		}
		if started && n == 0 {
			_ = bar.Finish()
			stop()
			return
		}
	}
}
