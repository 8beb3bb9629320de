package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"connkeeper/internal/config"
	"connkeeper/internal/models"
)

const defaultTimeout = 4 * time.Second

// Prober performs one bounded reachability check. Implementations never
// panic and never return errors: every failure is reported as OK=false.
type Prober interface {
	Probe(ctx context.Context) models.ProbeResult
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) models.ProbeResult

// Probe calls f(ctx).
func (f ProberFunc) Probe(ctx context.Context) models.ProbeResult {
	return f(ctx)
}

// HTTPProbe issues GET requests against the backend health endpoint.
// Only 2xx responses count as reachable.
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
	client  *http.Client
}

// NewHTTPProbe creates a health probe for url.
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPProbe{
		URL:     url,
		Timeout: timeout,
		client:  &http.Client{},
	}
}

// Probe implements Prober.
func (p *HTTPProbe) Probe(ctx context.Context) models.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	start := time.Now()
	res := models.ProbeResult{
		Target:    p.URL,
		CheckedAt: start.UTC(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		res.Reason = models.ReasonServerUnreachable
		res.Error = err.Error()
		return res
	}

	response, err := p.client.Do(req)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out"
		}
		res.Reason = models.ReasonServerUnreachable
		res.Error = msg
		return res
	}
	defer response.Body.Close()

	res.LatencyMs = time.Since(start).Milliseconds()
	res.OK = response.StatusCode >= 200 && response.StatusCode < 300
	if !res.OK {
		res.Reason = models.ReasonServerUnreachable
		res.Error = fmt.Sprintf("http %d %s", response.StatusCode, http.StatusText(response.StatusCode))
	}
	return res
}

// DialProbe checks general internet reachability with a TCP dial.
type DialProbe struct {
	Address string
	Timeout time.Duration
	dialer  net.Dialer
}

// NewDialProbe creates a dial probe. A target without a port dials port 53.
func NewDialProbe(target string, timeout time.Duration) *DialProbe {
	address := strings.TrimSpace(target)
	if address == "" {
		address = "1.1.1.1"
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, "53")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &DialProbe{Address: address, Timeout: timeout}
}

// Probe implements Prober.
func (p *DialProbe) Probe(ctx context.Context) models.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	started := time.Now()
	status := models.ProbeResult{
		Target:    p.Address,
		CheckedAt: started.UTC(),
	}

	conn, err := p.dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		status.Reason = models.ReasonNoNetwork
		status.Error = err.Error()
		return status
	}
	status.OK = true
	status.LatencyMs = int64(time.Since(started) / time.Millisecond)
	_ = conn.Close()
	return status
}

// InterfaceProbe reports whether the host has a usable network interface.
type InterfaceProbe struct {
	available func() (bool, error)
}

// NewInterfaceProbe inspects the host interfaces.
func NewInterfaceProbe() *InterfaceProbe {
	return &InterfaceProbe{available: hostHasInterface}
}

// NewInterfaceProbeFunc uses fn instead of the host interfaces.
func NewInterfaceProbeFunc(fn func() (bool, error)) *InterfaceProbe {
	return &InterfaceProbe{available: fn}
}

// Up reports whether a non-loopback interface is up and has an address.
func (p *InterfaceProbe) Up() bool {
	ok, err := p.available()
	return err == nil && ok
}

// Probe implements Prober.
func (p *InterfaceProbe) Probe(_ context.Context) models.ProbeResult {
	res := models.ProbeResult{Target: "interfaces", CheckedAt: time.Now().UTC()}
	ok, err := p.available()
	switch {
	case err != nil:
		res.Reason = models.ReasonNoNetwork
		res.Error = err.Error()
	case !ok:
		res.Reason = models.ReasonNoNetwork
		res.Error = "no active network interface"
	default:
		res.OK = true
	}
	return res
}

func hostHasInterface() (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if len(addrs) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ProbeClient combines the interface, health and internet probes into one
// classified result:
//
//   - no usable interface: no-network
//   - health endpoint answered 2xx: ok
//   - health failed but internet dial works (or is disabled): server-unreachable
//   - otherwise: no-network
type ProbeClient struct {
	Interfaces Prober
	Health     Prober
	Internet   Prober
	Timeout    time.Duration

	clock  clockwork.Clock
	logger *slog.Logger
}

// NewProbeClient builds the composite probe from configuration.
func NewProbeClient(cfg config.Config, clock clockwork.Clock, logger *slog.Logger) *ProbeClient {
	c := &ProbeClient{
		Interfaces: NewInterfaceProbe(),
		Health:     NewHTTPProbe(cfg.HealthURL(), cfg.Probe.Timeout()),
		Timeout:    cfg.Probe.Timeout(),
		clock:      clock,
		logger:     logger,
	}
	if strings.TrimSpace(cfg.Probe.InternetTarget) != "" {
		c.Internet = NewDialProbe(cfg.Probe.InternetTarget, cfg.Probe.Timeout())
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func (c *ProbeClient) now() time.Time {
	if c.clock == nil {
		return time.Now().UTC()
	}
	return c.clock.Now().UTC()
}

func (c *ProbeClient) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Probe implements Prober.
func (c *ProbeClient) Probe(ctx context.Context) (res models.ProbeResult) {
	checkedAt := c.now()

	defer func() {
		if r := recover(); r != nil {
			res = models.ProbeResult{
				Target:    "health",
				Reason:    models.ReasonNoNetwork,
				Error:     fmt.Sprintf("probe panic: %v", r),
				CheckedAt: checkedAt,
			}
		}
		c.log().Debug("probe finished", "target", res.Target, "ok", res.OK, "reason", res.Reason, "error", res.Error)
	}()

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.Interfaces != nil {
		if iface := c.Interfaces.Probe(ctx); !iface.OK {
			iface.CheckedAt = checkedAt
			return iface
		}
	}

	if c.Health == nil {
		return models.ProbeResult{Target: "health", Reason: models.ReasonServerUnreachable, Error: "no health probe configured", CheckedAt: checkedAt}
	}
	res = c.Health.Probe(ctx)
	res.CheckedAt = checkedAt
	if res.OK {
		res.Reason = models.ReasonNone
		return res
	}

	res.Reason = models.ReasonServerUnreachable
	if c.Internet != nil {
		if internet := c.Internet.Probe(ctx); !internet.OK {
			res.Reason = models.ReasonNoNetwork
		}
	}
	return res
}
