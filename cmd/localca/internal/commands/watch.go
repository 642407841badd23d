package commands

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/localca/internal/ca"
	"github.com/wolfeidau/localca/internal/logger"
	"github.com/wolfeidau/localca/internal/telemetry"
	"github.com/wolfeidau/localca/internal/watcher"
)

// WatchCmd polls a domain list file and issues certificates whenever it changes.
type WatchCmd struct {
	File        string   `help:"domain list file, one domain per line (default: <home>/DOMAINS)" env:"CA_DOMAINS_FILE"`
	Interval    Interval `help:"poll interval, in seconds or as a duration such as 30m" default:"12h" env:"CA_WATCH_INTERVAL"`
	Policy      string   `help:"which domains to issue on change: all listed, or only those not yet issued" default:"all" enum:"all,new"`
	Concurrency int      `help:"number of certificates issued in parallel" default:"1"`
	MaxAttempts int      `help:"attempts per domain for transient write failures" default:"3"`
	Notify      bool     `help:"also poll when the file changes on disk" default:"false"`
	Init        bool     `help:"create the root CA before watching when it is missing" default:"false"`
}

func (w *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting watcher")

	if telemetry.Enabled() {
		shutdown, err := telemetry.InitTelemetry(ctx, "localca", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	st := globals.store()
	if err := st.EnsureDirs(); err != nil {
		return fmt.Errorf("%w: %w", ca.ErrConfiguration, err)
	}

	if w.Init {
		mgr, err := ca.NewManager(globals.Config, st, log)
		if err != nil {
			return err
		}
		if _, err := mgr.Initialize(ctx, false); err != nil {
			return fmt.Errorf("init root CA: %w", err)
		}
	} else if exists, err := st.RootExists(); err == nil && !exists {
		log.Warn().Str("path", st.RootPaths().Key).Msg("root CA missing, issuance will fail until init is run")
	}

	issuer, err := ca.NewIssuer(globals.Config, st, log)
	if err != nil {
		return err
	}

	file := w.File
	if file == "" {
		file = filepath.Join(globals.Home, "DOMAINS")
	}

	wt, err := watcher.New(watcher.Options{
		Path:        file,
		Interval:    time.Duration(w.Interval),
		Policy:      watcher.Policy(w.Policy),
		Concurrency: w.Concurrency,
		MaxAttempts: w.MaxAttempts,
		Notify:      w.Notify,
	}, issuer, log)
	if err != nil {
		return err
	}

	if err := wt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch %s: %w", file, err)
	}

	log.Info().Msg("Watcher shutdown complete")

	return nil
}

// Interval is a poll interval given either as a whole number of seconds or as a
// Go duration string.
type Interval time.Duration

var _ kong.MapperValue = (*Interval)(nil)

// Decode implements kong.MapperValue.
func (i *Interval) Decode(ctx *kong.DecodeContext) error {
	var s string
	if err := ctx.Scan.PopValueInto("interval", &s); err != nil {
		return err
	}

	d, err := ParseInterval(s)
	if err != nil {
		return err
	}

	*i = Interval(d)
	return nil
}

// ParseInterval accepts "43200" (seconds) or "12h".
func ParseInterval(s string) (time.Duration, error) {
	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > math.MaxInt64/int64(time.Second) {
			return 0, fmt.Errorf("invalid interval %q: too large", s)
		}
		d = time.Duration(n) * time.Second
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: expected seconds or a duration such as 30m", s)
		}
	}

	if d <= 0 {
		return 0, fmt.Errorf("invalid interval %q: must be positive", s)
	}

	return d, nil
}
