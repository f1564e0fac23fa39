package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/kimhsiao/petstock/internal/logging"
)

const (
	DefaultProbeInterval = 10 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
)

// DialFunc opens a connection; net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ProbeSource feeds a Monitor by periodically dialing a TCP address.
type ProbeSource struct {
	monitor  *Monitor
	address  string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewProbeSource creates a probe for address ("host:port").
// Zero interval or timeout select the defaults.
func NewProbeSource(monitor *Monitor, address string, interval, timeout time.Duration) *ProbeSource {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	d := &net.Dialer{}
	return &ProbeSource{
		monitor:  monitor,
		address:  address,
		interval: interval,
		timeout:  timeout,
		dial:     d.DialContext,
	}
}

// WithDialer replaces the dial function, for tests.
func (p *ProbeSource) WithDialer(dial DialFunc) *ProbeSource {
	p.dial = dial
	return p
}

// ProbeOnce dials the address once and feeds the result to the monitor.
func (p *ProbeSource) ProbeOnce(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", p.address)
	reachable := err == nil
	if reachable {
		conn.Close()
	} else {
		logging.Debug("connectivity probe failed", map[string]interface{}{
			"address": p.address,
			"error":   err.Error(),
		})
	}
	p.monitor.Observe(reachable)
	return reachable
}

// Start probes immediately and then on every interval until Stop or ctx ends.
func (p *ProbeSource) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.ProbeOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.ProbeOnce(ctx)
			}
		}
	}()
}

// Stop ends the probe loop and waits for it to exit.
func (p *ProbeSource) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
}
