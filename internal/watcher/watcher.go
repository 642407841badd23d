package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/localca/internal/ca"
	"github.com/wolfeidau/localca/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxAttempts  = 3
	DefaultRetryInitial = 500 * time.Millisecond
	DefaultDebounce     = 500 * time.Millisecond
)

// ErrInvalidOptions is returned by New when the options cannot drive a watch loop.
var ErrInvalidOptions = errors.New("invalid watcher options")

// Policy selects which listed domains are issued when the list changes.
type Policy string

const (
	// PolicyAll re-issues every listed domain on any change, including comment-only edits.
	PolicyAll Policy = "all"
	// PolicyNew issues only domains without a successful issuance in this process.
	PolicyNew Policy = "new"
)

// ParsePolicy converts a flag value into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyAll:
		return PolicyAll, nil
	case PolicyNew:
		return PolicyNew, nil
	default:
		return "", fmt.Errorf("%w: unknown policy %q", ErrInvalidOptions, s)
	}
}

// Issuer issues a leaf certificate for a domain.
type Issuer interface {
	Issue(ctx context.Context, domain string, extraSANs []string) (*ca.LeafCertificate, error)
}

// Options configures a Watcher.
type Options struct {
	Path         string
	Interval     time.Duration
	Policy       Policy
	Concurrency  int
	MaxAttempts  int
	RetryInitial time.Duration
	Notify       bool
	Debounce     time.Duration
}

// State is carried from one tick to the next. The zero value is the state before the first poll.
type State struct {
	Fingerprint string
	Seen        bool
	// Issued holds the lowercased domains whose most recent issuance succeeded.
	Issued map[string]bool
}

// Failure records a domain that could not be issued during a tick.
type Failure struct {
	Domain string
	Class  string
	Err    error
}

// TickResult summarizes one poll.
type TickResult struct {
	Revision string
	Changed  bool
	Exists   bool
	Domains  []string
	Issued   []string
	Skipped  []string
	Failed   []Failure
	Err      error
}

// Watcher polls a domain list and issues certificates when its contents change.
type Watcher struct {
	opts   Options
	issuer Issuer
	logger zerolog.Logger
}

// New returns a Watcher for opts, filling in defaults for zero values.
func New(opts Options, issuer Issuer, logger zerolog.Logger) (*Watcher, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: domain list path is empty", ErrInvalidOptions)
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidOptions, opts.Interval)
	}

	policy, err := ParsePolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	opts.Policy = policy

	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = DefaultRetryInitial
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	return &Watcher{
		opts:   opts,
		issuer: issuer,
		logger: logger.With().Str("component", "watcher").Str("path", opts.Path).Logger(),
	}, nil
}

// Run polls until ctx is cancelled. The first poll happens immediately. With Notify set,
// filesystem events on the list trigger an extra poll; the interval ticker still runs.
// Cancellation is not an error.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info().
		Str("event", "watch.started").
		Dur("interval", w.opts.Interval).
		Str("policy", string(w.opts.Policy)).
		Int("concurrency", w.opts.Concurrency).
		Msg("watching domain list")

	var changes <-chan struct{}
	if w.opts.Notify {
		n, err := newNotifier(ctx, w.opts.Path, w.opts.Debounce, w.logger)
		if err != nil {
			w.logger.Warn().Err(err).Str("event", "watch.notify_disabled").Msg("file notifications unavailable, polling only")
		} else {
			defer func() {
				if err := n.Close(); err != nil {
					w.logger.Debug().Err(err).Msg("closing file notifier")
				}
			}()
			changes = n.C
		}
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	state, _ := w.Tick(ctx, State{})

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Str("event", "watch.stopped").Msg("watcher stopped")
			return nil
		case <-ticker.C:
		case <-changes:
			w.logger.Debug().Str("event", "watch.notified").Msg("domain list changed on disk")
		}

		state, _ = w.Tick(ctx, state)
	}
}

// Tick performs a single poll against state and returns the next state.
//
// An unchanged fingerprint is a no-op. Otherwise the domains selected by the policy are
// issued, each in isolation, and the new fingerprint is recorded once all have been
// attempted. A read error or cancellation leaves the fingerprint untouched so the
// revision is retried on the next tick.
func (w *Watcher) Tick(ctx context.Context, state State) (State, TickResult) {
	if err := ctx.Err(); err != nil {
		return state, TickResult{Err: err}
	}

	m := telemetry.GetMetrics()

	rev, err := ReadRevision(w.opts.Path)
	if err != nil {
		w.logger.Error().Err(err).Str("event", "watch.read_failed").Msg("failed to read domain list")
		return state, TickResult{Err: err}
	}

	result := TickResult{
		Revision: rev.ID,
		Exists:   rev.Exists,
		Domains:  rev.Domains,
		Changed:  !state.Seen || rev.Fingerprint != state.Fingerprint,
	}

	m.WatchTicksTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("changed", result.Changed)))

	if !result.Changed {
		w.logger.Debug().Str("revision", rev.ID).Str("event", "watch.unchanged").Msg("domain list unchanged")
		return state, result
	}

	logger := w.logger.With().Str("revision", rev.ID).Str("fingerprint", rev.Fingerprint).Logger()

	if !rev.Exists {
		logger.Warn().Str("event", "watch.missing").Msg("domain list not found, waiting for it to appear")
	}

	m.WatchRevisionsTotal.Add(ctx, 1)
	m.WatchDomains.Record(ctx, int64(len(rev.Domains)))

	targets := make([]string, 0, len(rev.Domains))
	for _, domain := range rev.Domains {
		if w.opts.Policy == PolicyNew && state.Issued[strings.ToLower(domain)] {
			result.Skipped = append(result.Skipped, domain)
			continue
		}
		targets = append(targets, domain)
	}

	logger.Info().
		Str("event", "watch.revision").
		Int("domains", len(rev.Domains)).
		Int("targets", len(targets)).
		Int("skipped", len(result.Skipped)).
		Msg("domain list changed")

	errs := w.issueAll(ctx, logger, targets)

	next := State{
		Fingerprint: state.Fingerprint,
		Seen:        state.Seen,
		Issued:      make(map[string]bool, len(rev.Domains)),
	}

	// Domains dropped from the list are forgotten so re-adding one issues it again.
	for _, domain := range rev.Domains {
		if key := strings.ToLower(domain); state.Issued[key] {
			next.Issued[key] = true
		}
	}

	cancelled := false
	for i, domain := range targets {
		key := strings.ToLower(domain)
		if err := errs[i]; err != nil {
			delete(next.Issued, key)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				cancelled = true
			}
			result.Failed = append(result.Failed, Failure{Domain: domain, Class: ca.Classify(err), Err: err})
			continue
		}
		next.Issued[key] = true
		result.Issued = append(result.Issued, domain)
	}

	if cancelled || ctx.Err() != nil {
		logger.Info().Str("event", "watch.interrupted").Msg("revision interrupted, will be retried")
		return next, result
	}

	next.Fingerprint = rev.Fingerprint
	next.Seen = true

	logger.Info().
		Str("event", "watch.processed").
		Int("issued", len(result.Issued)).
		Int("failed", len(result.Failed)).
		Msg("domain list processed")

	return next, result
}

// issueAll issues targets in file order, in parallel up to the configured concurrency.
// The returned slice holds one error (or nil) per target.
func (w *Watcher) issueAll(ctx context.Context, logger zerolog.Logger, targets []string) []error {
	errs := make([]error, len(targets))

	var g errgroup.Group
	g.SetLimit(w.opts.Concurrency)

	for i, domain := range targets {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}

		g.Go(func() error {
			errs[i] = w.issueOne(ctx, logger, domain)
			return nil
		})
	}

	_ = g.Wait()

	return errs
}

func (w *Watcher) issueOne(ctx context.Context, logger zerolog.Logger, domain string) error {
	logger = logger.With().Str("domain", domain).Logger()

	if err := ctx.Err(); err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.opts.RetryInitial
	b.MaxInterval = 30 * w.opts.RetryInitial

	leaf, err := backoff.Retry(ctx, func() (*ca.LeafCertificate, error) {
		leaf, err := w.issuer.Issue(ctx, domain, nil)
		if err == nil {
			return leaf, nil
		}
		if errors.Is(err, ca.ErrPersistence) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(w.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			telemetry.GetMetrics().WatchRetriesTotal.Add(ctx, 1)
			logger.Warn().Err(err).Dur("retry_in", next).Str("event", "watch.retry").Msg("issuance failed, retrying")
		}),
	)
	if err != nil {
		logger.Error().Err(err).Str("class", ca.Classify(err)).Str("event", "watch.issue_failed").Msg("issuance failed")
		return err
	}

	logger.Info().Str("path", leaf.Dir).Str("event", "watch.issued").Msg("certificate issued")

	return nil
}
