package cookieauth

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/cookieauth/internal/audit"
	"github.com/MrEthical07/cookieauth/internal/metrics"
	"github.com/MrEthical07/cookieauth/jwt"
	"github.com/MrEthical07/cookieauth/refresh"
)

// Builder assembles a Manager. Configure it during initialization and call
// Build once.
type Builder struct {
	config Config
	repo   refresh.Repository

	logger    *slog.Logger
	auditSink AuditSink
	metadata  MetadataHook
	claims    ClaimsHook
	recorder  LoginRecorder
	single    SingleSessionPolicy
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig and DefaultMetadataHook.
func New() *Builder {
	return &Builder{
		config:   DefaultConfig(),
		metadata: DefaultMetadataHook,
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the refresh record backend. It is required.
func (b *Builder) WithStore(repo refresh.Repository) *Builder {
	b.repo = repo
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events go. Events are only dispatched when
// Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetadataHook replaces DefaultMetadataHook. nil disables annotation.
func (b *Builder) WithMetadataHook(hook MetadataHook) *Builder {
	b.metadata = hook
	return b
}

func (b *Builder) WithClaimsHook(hook ClaimsHook) *Builder {
	b.claims = hook
	return b
}

func (b *Builder) WithLoginRecorder(recorder LoginRecorder) *Builder {
	b.recorder = recorder
	return b
}

// WithSingleSessionPolicy makes IssueSession revoke every other session of
// a user for whom policy returns true.
func (b *Builder) WithSingleSessionPolicy(policy SingleSessionPolicy) *Builder {
	b.single = policy
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock replaces time.Now for token and record timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns a ready Manager. A Builder
// can only be built once.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	if b.repo == nil {
		return nil, errors.New("cookieauth: refresh store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	codec, err := jwt.NewCodec(cfg.codecConfig(now))
	if err != nil {
		return nil, invalid("%v", err)
	}
	store, err := refresh.NewStore(b.repo, cfg.refreshConfig(now))
	if err != nil {
		return nil, invalid("%v", err)
	}
	transport, err := NewCookieTransport(cfg.Cookie, now)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	counters := metrics.New(metrics.Config{
		Enabled:                 cfg.Metrics.Enabled,
		EnableLatencyHistograms: cfg.Metrics.EnableLatencyHistograms,
	})

	m := &Manager{
		cfg:       cfg,
		codec:     codec,
		store:     store,
		transport: transport,
		logger:    logger,
		metrics:   counters,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			OnDrop:     func() { counters.Inc(metrics.AuditDropped) },
		}, b.auditSink),
		metadata: b.metadata,
		claims:   b.claims,
		recorder: b.recorder,
		single:   b.single,
		now:      now,
	}

	b.built = true
	return m, nil
}
