package reachability

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"datalayer/internal/repository"
)

// DefaultPorts are tried in order when a peer address has no port
var DefaultPorts = []int{22, 80, 443, 53}

// TCPProber treats a peer as up when it answers a TCP dial. A refused
// connection still proves the host is there.
type TCPProber struct {
	Timeout     time.Duration
	Ports       []int
	Concurrency int
}

// NewTCPProber creates a TCP prober with the given dial timeout
func NewTCPProber(timeout time.Duration) *TCPProber {
	return &TCPProber{Timeout: timeout, Ports: DefaultPorts, Concurrency: 8}
}

// Name returns the prober identifier
func (p *TCPProber) Name() string {
	return "tcp"
}

// Probe dials every peer concurrently
func (p *TCPProber) Probe(ctx context.Context, peers []repository.Peer) ([]Result, error) {
	results := make([]Result, len(peers))

	g, gctx := errgroup.WithContext(ctx)
	if p.Concurrency > 0 {
		g.SetLimit(p.Concurrency)
	}
	for i, peer := range peers {
		g.Go(func() error {
			results[i] = p.probeOne(gctx, peer)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := results[:0]
	for _, r := range results {
		if r.Address != "" {
			out = append(out, r)
		}
	}
	return out, ctx.Err()
}

func (p *TCPProber) probeOne(ctx context.Context, peer repository.Peer) Result {
	result := Result{Peer: peer.ID, Address: peer.Address}
	if peer.Address == "" {
		return result
	}

	var lastErr error
	for _, addr := range p.candidates(peer.Address) {
		start := time.Now()
		up, err := p.dial(ctx, addr)
		if up {
			result.Up = true
			result.Latency = time.Since(start)
			return result
		}
		lastErr = err
	}
	if lastErr != nil {
		result.Error = lastErr.Error()
	}
	return result
}

func (p *TCPProber) candidates(address string) []string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return []string{address}
	}
	ports := p.Ports
	if len(ports) == 0 {
		ports = DefaultPorts
	}
	addrs := make([]string, len(ports))
	for i, port := range ports {
		addrs[i] = net.JoinHostPort(address, strconv.Itoa(port))
	}
	return addrs
}

func (p *TCPProber) dial(ctx context.Context, addr string) (bool, error) {
	dialer := net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err == nil {
		conn.Close()
		return true, nil
	}
	if isRefused(err) {
		return true, nil
	}
	return false, err
}

// isRefused reports whether the host answered with a reset
func isRefused(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) || opErr.Timeout() {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return false
	}
	return errors.Is(err, errConnRefused)
}
