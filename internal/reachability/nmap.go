package reachability

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"

	"datalayer/internal/repository"
)

// NmapProber runs one nmap ping scan over every peer address. It needs the
// nmap binary in PATH.
type NmapProber struct {
	timeout       time.Duration
	skipDiscovery bool
	unprivileged  bool
	logger        *slog.Logger
}

// NmapOption configures an NmapProber
type NmapOption func(*NmapProber)

// WithNmapTimeout bounds a whole scan
func WithNmapTimeout(d time.Duration) NmapOption {
	return func(n *NmapProber) {
		n.timeout = d
	}
}

// WithSkipHostDiscovery treats every target as up and only checks ports
// (-Pn). Useful when peers drop ICMP.
func WithSkipHostDiscovery(skip bool) NmapOption {
	return func(n *NmapProber) {
		n.skipDiscovery = skip
	}
}

// WithUnprivileged forces nmap to avoid raw sockets
func WithUnprivileged(enabled bool) NmapOption {
	return func(n *NmapProber) {
		n.unprivileged = enabled
	}
}

// NewNmapProber creates an nmap-based prober
func NewNmapProber(logger *slog.Logger, opts ...NmapOption) *NmapProber {
	if logger == nil {
		logger = slog.Default()
	}
	n := &NmapProber{
		timeout: 2 * time.Minute,
		logger:  logger.With("component", "nmap"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name returns the prober identifier
func (n *NmapProber) Name() string {
	return "nmap"
}

// Available reports whether the nmap binary can run
func (n *NmapProber) Available(ctx context.Context) bool {
	scanner, err := nmap.NewScanner(
		ctx,
		nmap.WithTargets("localhost"),
		nmap.WithListScan(),
	)
	if err != nil {
		return false
	}
	_, _, err = scanner.Run()
	return err == nil
}

// Probe ping-scans the hosts of every peer address
func (n *NmapProber) Probe(ctx context.Context, peers []repository.Peer) ([]Result, error) {
	targets, byHost := scanTargets(peers)
	if len(targets) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	opts := []nmap.Option{
		nmap.WithTargets(targets...),
		nmap.WithPingScan(),
	}
	if n.skipDiscovery {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}
	if n.unprivileged {
		opts = append(opts, nmap.WithUnprivileged())
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}

	start := time.Now()
	run, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		n.logger.Warn("nmap warnings", "warnings", *warnings)
	}

	up := upHosts(run)
	elapsed := time.Since(start)
	n.logger.Debug("ping scan complete", "targets", len(targets), "up", len(up), "elapsed", elapsed)

	var results []Result
	for _, host := range targets {
		for _, peer := range byHost[host] {
			r := Result{Peer: peer.ID, Address: peer.Address, Up: up[host]}
			if r.Up {
				r.Latency = elapsed
			}
			results = append(results, r)
		}
	}
	return results, nil
}

// scanTargets groups peers by host so each host is scanned once
func scanTargets(peers []repository.Peer) ([]string, map[string][]repository.Peer) {
	byHost := make(map[string][]repository.Peer)
	var targets []string
	for _, p := range peers {
		if p.Address == "" {
			continue
		}
		host := p.Address
		if h, _, err := net.SplitHostPort(p.Address); err == nil {
			host = h
		}
		if _, seen := byHost[host]; !seen {
			targets = append(targets, host)
		}
		byHost[host] = append(byHost[host], p)
	}
	return targets, byHost
}

// upHosts indexes the hosts reported up by every address and hostname
// nmap attached to them
func upHosts(run *nmap.Run) map[string]bool {
	up := make(map[string]bool)
	if run == nil {
		return up
	}
	for _, host := range run.Hosts {
		if host.Status.State != "up" {
			continue
		}
		for _, addr := range host.Addresses {
			up[addr.Addr] = true
		}
		for _, name := range host.Hostnames {
			up[name.Name] = true
		}
	}
	return up
}
