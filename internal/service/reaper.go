package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/tremiti/admin-console/config"
	"github.com/tremiti/admin-console/internal/observability/statsd"
)

// ClientSweeper drops idle clients from a registry.
type ClientSweeper interface {
	Sweep(now time.Time, idle time.Duration) int
	Len() int
}

// CredentialPruner drops expired persisted credentials. Stores with native
// expiry, such as Redis, don't need one.
type CredentialPruner interface {
	Prune() int
}

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Clients     ClientSweeper       // Required: client registry
	Credentials CredentialPruner    // Optional: in-memory credential store
	Config      config.ReaperConfig // Required: reaper configuration
	Logger      *slog.Logger        // Optional: structured logger
	Metrics     statsd.Sink         // Optional: metrics sink (StatsD-compatible)
}

// ReaperService periodically closes clients that have been idle longer than
// the configured TTL, releasing their provider listeners and token state.
type ReaperService struct {
	clients ClientSweeper
	creds   CredentialPruner
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Clients == nil {
		return nil, errors.New("client sweeper is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}
	if opts.Config.ClientIdleTTL <= 0 {
		return nil, errors.New("reaper client idle TTL must be positive")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"client_idle_ttl", opts.Config.ClientIdleTTL,
		)
	}

	return &ReaperService{
		clients: opts.Clients,
		creds:   opts.Credentials,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}, nil
}

// Run sweeps at the configured interval until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), ctx.Err() otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ReaperService) sweep(ctx context.Context) int {
	start := time.Now()
	removed := s.clients.Sweep(s.now(), s.config.ClientIdleTTL)
	remaining := s.clients.Len()
	pruned := 0
	if s.creds != nil {
		pruned = s.creds.Prune()
	}

	if s.logger != nil && (removed > 0 || pruned > 0) {
		s.logger.InfoContext(ctx, "idle clients reaped",
			"removed", removed, "remaining", remaining, "credentials_pruned", pruned)
	}
	if s.metrics != nil {
		s.metrics.Count("reaper.clients_removed", int64(removed), nil)
		s.metrics.Count("reaper.clients_live", int64(remaining), nil)
		s.metrics.Timing("reaper.sweep_duration", time.Since(start), nil)
	}
	return removed
}

// waitWithJitter adds a random delay up to 10% of the interval so replicas don't sweep in lockstep.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}
