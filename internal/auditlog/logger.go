// Package auditlog writes the append-only audit trail of metered calls and
// reports diagnostics to the host's structured log.
//
// Every event becomes one line in the audit file. Diagnostics are also sent
// to the host sink, which only becomes available once the host has
// initialized the plugin: until Ready is called, diagnostics are queued (up to
// a bound) and delivered on Ready.
package auditlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alecgard/copilot-stats/internal/metering"
	"github.com/alecgard/copilot-stats/internal/ratelimit"
)

// DefaultService identifies this module in host log entries.
const DefaultService = "copilot-stats"

const hostDispatchTimeout = 5 * time.Second

// LineWriter accepts complete audit lines. *FileSink satisfies it.
type LineWriter interface {
	Write(line string)
}

// Config configures a Logger.
type Config struct {
	InstanceID    string
	Service       string
	PreInitBuffer int
	// HostRate diagnostics of each kind reach the host per HostWindow. Zero
	// disables throttling.
	HostRate   int
	HostWindow time.Duration
}

type state int

const (
	stateUninitialized state = iota
	stateReady
)

// Logger is the dual-sink diagnostic logger. It is safe for concurrent use.
type Logger struct {
	file       LineWriter
	instanceID string
	service    string
	now        func() time.Time
	limiter    *ratelimit.Limiter
	metrics    MetricsRecorder

	mu         sync.Mutex
	state      state
	host       HostSink
	pending    []Entry
	pendingCap int
	dropped    int

	wg sync.WaitGroup
}

// New creates a Logger in the uninitialized state.
func New(file LineWriter, cfg Config) *Logger {
	service := cfg.Service
	if service == "" {
		service = DefaultService
	}
	return &Logger{
		file:       file,
		instanceID: cfg.InstanceID,
		service:    service,
		now:        time.Now,
		limiter:    ratelimit.New(cfg.HostRate, cfg.HostWindow),
		pendingCap: cfg.PreInitBuffer,
	}
}

// SetMetrics sets the optional metrics recorder.
func (l *Logger) SetMetrics(m MetricsRecorder) {
	l.metrics = m
}

// InstanceID returns the token stamped on every line.
func (l *Logger) InstanceID() string {
	return l.instanceID
}

// Call writes the audit line for a recorded call.
func (l *Logger) Call(r metering.Result) {
	l.file.Write(FormatCall(l.now(), l.instanceID, r))
}

// Error writes a diagnostic to the audit file and reports it to the host sink.
func (l *Logger) Error(err error) {
	if err == nil {
		return
	}
	kind := KindOf(err)
	l.file.Write(FormatError(l.now(), l.instanceID, err.Error()))
	if l.metrics != nil {
		l.metrics.IncDiagnostic(kind)
	}
	if kind == KindLogSink {
		return
	}
	l.report(kind, err.Error())
}

// WriteFailed reports an audit file failure to the host sink only, since the
// file is what just failed.
func (l *Logger) WriteFailed(err error) {
	if err == nil {
		return
	}
	if l.metrics != nil {
		l.metrics.IncDiagnostic(KindOf(err))
	}
	l.report(KindOf(err), err.Error())
}

// report routes a diagnostic to the host sink, queueing it while the host is
// not ready.
func (l *Logger) report(kind, message string) {
	e := Entry{Service: l.service, Level: LevelError, Message: message}

	l.mu.Lock()
	if l.state != stateReady {
		if len(l.pending) < l.pendingCap {
			l.pending = append(l.pending, e)
		} else {
			l.dropped++
			if l.metrics != nil {
				l.metrics.IncDiagnosticsDropped(1)
			}
		}
		l.mu.Unlock()
		return
	}
	host := l.host
	l.mu.Unlock()

	allowed, suppressed := l.limiter.Allow(kind)
	if !allowed {
		return
	}
	if suppressed > 0 {
		e.Message = fmt.Sprintf("%s (%d similar suppressed)", e.Message, suppressed)
	}
	l.dispatch(host, e)
}

// Ready supplies the host sink and delivers queued diagnostics.
func (l *Logger) Ready(host HostSink) {
	l.mu.Lock()
	l.state = stateReady
	l.host = host
	pending := l.pending
	dropped := l.dropped
	l.pending = nil
	l.dropped = 0
	l.mu.Unlock()

	for _, e := range pending {
		l.dispatch(host, e)
	}
	if dropped > 0 {
		l.dispatch(host, Entry{
			Service: l.service,
			Level:   LevelError,
			Message: fmt.Sprintf("%d diagnostics dropped before initialization", dropped),
		})
	}
}

// FlushSuppressed tells the host how many diagnostics of each kind were
// withheld by throttling since the last one that got through. It does nothing
// before Ready.
func (l *Logger) FlushSuppressed() {
	l.mu.Lock()
	ready, host := l.state == stateReady, l.host
	l.mu.Unlock()
	if !ready {
		return
	}

	counts := l.limiter.DrainSuppressed()
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		l.dispatch(host, Entry{
			Service: l.service,
			Level:   LevelError,
			Message: fmt.Sprintf("%d %s diagnostics suppressed", counts[kind], kind),
		})
	}
}

// IsReady reports whether the host sink has been supplied.
func (l *Logger) IsReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == stateReady
}

// dispatch sends e to the host without waiting. A rejection is written to the
// audit file only.
func (l *Logger) dispatch(host HostSink, e Entry) {
	if host == nil {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), hostDispatchTimeout)
		defer cancel()

		if err := host.Log(ctx, e); err != nil {
			l.Error(fmt.Errorf("%w: %v", ErrLogSink, err))
		}
	}()
}

// Wait blocks until in-flight host dispatches have finished.
func (l *Logger) Wait() {
	l.wg.Wait()
}
