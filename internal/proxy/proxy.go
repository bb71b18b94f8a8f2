// Package proxy meters outbound HTTP calls as they pass through the client
// transport. Interceptors are composed around a base http.RoundTripper; the
// metering interceptor classifies and records in-scope calls and always
// forwards the original request.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alecgard/copilot-stats/internal/auditlog"
	"github.com/alecgard/copilot-stats/internal/classify"
	"github.com/alecgard/copilot-stats/internal/extract"
	"github.com/alecgard/copilot-stats/internal/metering"
)

// DefaultInitiatorHeader carries the calling context of a request.
const DefaultInitiatorHeader = "x-initiator"

// DefaultHosts are the Copilot API domains metered by default.
var DefaultHosts = []string{"github.com", "githubcopilot.com", "ghe.com"}

// Next forwards a request to the rest of the chain.
type Next func(req *http.Request) (*http.Response, error)

// Interceptor observes or wraps a request before handing it to next.
type Interceptor func(req *http.Request, next Next) (*http.Response, error)

// RoundTripFunc adapts a function to http.RoundTripper.
type RoundTripFunc func(req *http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper.
func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Chain composes interceptors around base. The first interceptor sees the
// request first. A nil base uses http.DefaultTransport.
func Chain(base http.RoundTripper, interceptors ...Interceptor) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	next := Next(base.RoundTrip)
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic, inner := interceptors[i], next
		next = func(req *http.Request) (*http.Response, error) {
			return ic(req, inner)
		}
	}
	return RoundTripFunc(next)
}

// Recorder records a classified call. *metering.Ledger satisfies it.
type Recorder interface {
	Record(model, initiator string, kind classify.Kind) metering.Result
}

// Diagnostics receives audit events. *auditlog.Logger satisfies it.
type Diagnostics interface {
	Call(r metering.Result)
	Error(err error)
}

// MetricsRecorder is an optional interface for recording interception metrics.
type MetricsRecorder interface {
	IncIntercepted(scope string)
	IncCall(model, initiator, kind string, cost float64)
	ObserveUpstreamDuration(seconds float64)
	IncUpstreamError(errorType string)
}

// Config selects which calls are metered.
type Config struct {
	Hosts           []string
	InitiatorHeader string
	// MaxBodyBytes caps how much of a body is read for classification.
	MaxBodyBytes int64
}

// Meter is the metering interceptor.
type Meter struct {
	recorder Recorder
	diag     Diagnostics
	hosts    []string
	header   string
	maxBody  int64
	metrics  MetricsRecorder
}

// NewMeter creates a Meter. Empty config fields take the defaults.
func NewMeter(recorder Recorder, diag Diagnostics, cfg Config) *Meter {
	hosts := cfg.Hosts
	if len(hosts) == 0 {
		hosts = DefaultHosts
	}
	normalized := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
		if h != "" {
			normalized = append(normalized, h)
		}
	}
	header := cfg.InitiatorHeader
	if header == "" {
		header = DefaultInitiatorHeader
	}
	return &Meter{
		recorder: recorder,
		diag:     diag,
		hosts:    normalized,
		header:   header,
		maxBody:  cfg.MaxBodyBytes,
	}
}

// SetMetrics sets the optional metrics recorder.
func (m *Meter) SetMetrics(mr MetricsRecorder) {
	m.metrics = mr
}

// InScope reports whether u targets a metered host: one of the configured
// hosts or a subdomain of one.
func (m *Meter) InScope(u *url.URL) bool {
	if u == nil {
		return false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return false
	}
	for _, h := range m.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Intercept implements Interceptor.
func (m *Meter) Intercept(req *http.Request, next Next) (*http.Response, error) {
	if !m.InScope(req.URL) {
		if m.metrics != nil {
			m.metrics.IncIntercepted("out_of_scope")
		}
		return next(req)
	}
	if m.metrics != nil {
		m.metrics.IncIntercepted("in_scope")
	}

	return m.forward(m.meter(req), next)
}

// Transport wraps base with the metering interceptor.
func (m *Meter) Transport(base http.RoundTripper) http.RoundTripper {
	return Chain(base, m.Intercept)
}

// meter classifies and records req and returns the request to forward: req
// itself, or a clone carrying a buffered copy of its body. It never fails the
// call: a panic is recovered and reported as a diagnostic.
func (m *Meter) meter(req *http.Request) (out *http.Request) {
	out = req
	defer func() {
		if r := recover(); r != nil {
			m.diag.Error(fmt.Errorf("metering %s %s: panic: %v", req.Method, req.URL.Host, r))
		}
	}()

	initiator := req.Header.Get(m.header)
	if initiator == "" {
		m.diag.Error(fmt.Errorf("%w %s: %s %s%s", auditlog.ErrMissingInitiator, m.header, req.Method, req.URL.Host, req.URL.Path))
		return out
	}

	info, fwd, err := extract.FromRequest(req, m.maxBody)
	out = fwd
	if err != nil {
		m.diag.Error(fmt.Errorf("%w: %v", auditlog.ErrBodyParse, err))
	}

	res := m.recorder.Record(info.Model, initiator, info.Kind)
	m.diag.Call(res)

	if m.metrics != nil {
		m.metrics.IncCall(res.Key.Model, res.Key.Initiator, string(res.Key.Kind), res.Cost)
	}
	return out
}

func (m *Meter) forward(req *http.Request, next Next) (*http.Response, error) {
	start := time.Now()
	resp, err := next(req)
	if m.metrics != nil {
		m.metrics.ObserveUpstreamDuration(time.Since(start).Seconds())
		if err != nil {
			m.metrics.IncUpstreamError(classifyUpstreamError(err))
		}
	}
	return resp, err
}

// classifyUpstreamError categorizes an upstream HTTP client error.
func classifyUpstreamError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Op == "dial" {
			return "connection_refused"
		}
		return "network"
	}
	return "other"
}
