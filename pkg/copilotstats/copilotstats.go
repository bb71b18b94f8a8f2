// Package copilotstats meters Copilot premium requests made through a host's
// HTTP client.
//
// A Plugin owns one ledger, one audit logger and one interceptor. The host
// routes its Copilot traffic through Plugin.Transport or Plugin.Client, calls
// Init once its logging service is available, and exposes the returned tools.
//
//	p, err := copilotstats.New(nil)
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//	client := p.Client()
//	tools := p.Init(copilotstats.SlogSink{Logger: logger})
package copilotstats

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alecgard/copilot-stats/internal/api"
	"github.com/alecgard/copilot-stats/internal/auditlog"
	"github.com/alecgard/copilot-stats/internal/config"
	"github.com/alecgard/copilot-stats/internal/metering"
	"github.com/alecgard/copilot-stats/internal/metrics"
	"github.com/alecgard/copilot-stats/internal/pricing"
	"github.com/alecgard/copilot-stats/internal/proxy"
	"github.com/alecgard/copilot-stats/internal/tool"
)

// Types the host needs to talk to the plugin.
type (
	Config       = config.Config
	HostSink     = auditlog.HostSink
	HostSinkFunc = auditlog.HostSinkFunc
	Entry        = auditlog.Entry
	SlogSink     = auditlog.SlogSink
	Tool         = tool.Tool
	Summary      = metering.Summary
	Interceptor  = proxy.Interceptor
)

// Plugin is one metering instance.
type Plugin struct {
	cfg     *config.Config
	ledger  *metering.Ledger
	metrics *metrics.Metrics
	sink    *auditlog.FileSink
	logger  *auditlog.Logger
	meter   *proxy.Meter
	tools   *tool.Registry

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// LoadConfig reads a config file the way the CLI does. An empty path yields
// the defaults plus environment overrides.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// New creates a Plugin and starts its audit log writer. A nil cfg uses the
// defaults.
func New(cfg *Config) (*Plugin, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	table, err := pricing.New(cfg.Multipliers)
	if err != nil {
		return nil, fmt.Errorf("building multiplier table: %w", err)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = config.DefaultLogFile()
	}

	ledger := metering.NewLedger(table)

	m := metrics.New()
	m.RegisterLedgerCollector(ledger.Snapshot)

	sink := auditlog.NewFileSink(logFile, cfg.Audit.BatchSize, cfg.Audit.FlushInterval)
	sink.SetMetrics(m)

	logger := auditlog.New(sink, auditlog.Config{
		InstanceID:    newInstanceID(),
		Service:       cfg.Service,
		PreInitBuffer: cfg.Audit.PreInitBuffer,
		HostRate:      cfg.Audit.HostRate,
		HostWindow:    cfg.Audit.HostWindow,
	})
	logger.SetMetrics(m)
	sink.SetErrorHandler(logger.WriteFailed)

	meter := proxy.NewMeter(ledger, logger, proxy.Config{
		Hosts:           cfg.Hosts,
		InitiatorHeader: cfg.InitiatorHeader,
		MaxBodyBytes:    cfg.MaxBodyBytes,
	})
	meter.SetMetrics(m)

	tools, err := tool.NewRegistry(tool.Builtin(ledger)...)
	if err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sink.Start(ctx)
	if cfg.Audit.HostRate > 0 {
		go flushSuppressed(ctx, logger, cfg.Audit.HostWindow)
	}

	return &Plugin{
		cfg:     cfg,
		ledger:  ledger,
		metrics: m,
		sink:    sink,
		logger:  logger,
		meter:   meter,
		tools:   tools,
		cancel:  cancel,
	}, nil
}

// flushSuppressed reports throttled diagnostics to the host once per window.
func flushSuppressed(ctx context.Context, logger *auditlog.Logger, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.FlushSuppressed()
		}
	}
}

// newInstanceID returns 8 hex characters from a random UUID.
func newInstanceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// InstanceID returns the token stamped on this instance's audit lines.
func (p *Plugin) InstanceID() string {
	return p.logger.InstanceID()
}

// LogFile returns the audit log path.
func (p *Plugin) LogFile() string {
	return p.sink.Path()
}

// Interceptor returns the metering interceptor, for hosts that compose their
// own chain with proxy-style interceptors.
func (p *Plugin) Interceptor() Interceptor {
	return p.meter.Intercept
}

// Transport wraps base so that in-scope calls are metered. A nil base uses
// http.DefaultTransport.
func (p *Plugin) Transport(base http.RoundTripper) http.RoundTripper {
	return p.meter.Transport(base)
}

// Client returns an http.Client whose calls are metered.
func (p *Plugin) Client() *http.Client {
	return &http.Client{Transport: p.Transport(nil)}
}

// Init hands the plugin the host's logging service and returns the tools to
// expose. Diagnostics raised before Init are delivered now. A nil sink logs
// through slog.Default.
func (p *Plugin) Init(host HostSink) []Tool {
	if host == nil {
		host = auditlog.SlogSink{}
	}
	p.logger.Ready(host)
	return p.tools.List()
}

// Execute runs the named tool.
func (p *Plugin) Execute(ctx context.Context, name string) (string, error) {
	return p.tools.Execute(ctx, name)
}

// Render returns the live usage table.
func (p *Plugin) Render() string {
	return p.ledger.Render()
}

// Snapshot returns the ledger rows and totals.
func (p *Plugin) Snapshot() Summary {
	return p.ledger.Snapshot()
}

// Handler returns the admin HTTP API for this instance.
func (p *Plugin) Handler() http.Handler {
	return api.NewRouter(api.RouterDeps{
		Tools:          p.tools,
		Metrics:        p.metrics,
		AllowedOrigins: p.cfg.CORS.AllowedOrigins,
		Ready:          p.logger.IsReady,
	})
}

// Close reports throttled diagnostics, waits for pending host log calls and
// flushes the audit log. The ledger stays readable. The transport keeps
// metering after Close, but its audit lines are then appended synchronously,
// so hosts should stop issuing calls through it first.
func (p *Plugin) Close() error {
	p.closeOnce.Do(func() {
		p.logger.FlushSuppressed()
		p.logger.Wait()
		p.sink.Stop()
		p.cancel()
	})
	return nil
}
