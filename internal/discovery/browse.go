package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/muurk/wbemd/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DMTF registered DNS-SD service types and their IANA ports.
const (
	ServiceType       = "_wbem._tcp"
	SecureServiceType = "_wbems._tcp"
	ServiceDomain     = "local."

	DefaultPort       = 5988
	DefaultSecurePort = 5989

	DefaultScanTimeout = 5 * time.Second
)

// Scanner browses the local link for CIM-XML servers.
type Scanner struct {
	Timeout time.Duration
}

func NewScanner() *Scanner {
	return &Scanner{Timeout: DefaultScanTimeout}
}

// Scan is shorthand for a Scanner with the given timeout. A zero timeout
// keeps DefaultScanTimeout.
func Scan(ctx context.Context, timeout time.Duration) ([]*Service, error) {
	s := NewScanner()
	if timeout > 0 {
		s.Timeout = timeout
	}
	return s.Scan(ctx)
}

// found accumulates services from concurrent browses. Two answers for the
// same instance, address and security are one service.
type found struct {
	mu       sync.Mutex
	keys     map[string]struct{}
	services []*Service
}

func (f *found) add(svc *Service) {
	key := fmt.Sprintf("%s|%s|%t", svc.Instance, svc.Address(), svc.Secure)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.keys[key]; dup {
		return
	}
	f.keys[key] = struct{}{}
	f.services = append(f.services, svc)
}

// Scan browses both service types until Timeout elapses or ctx ends, and
// returns what answered in the order first seen.
func (s *Scanner) Scan(ctx context.Context) ([]*Service, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	results := &found{keys: make(map[string]struct{})}
	g, gctx := errgroup.WithContext(ctx)
	for _, st := range []string{ServiceType, SecureServiceType} {
		g.Go(func() error { return browse(gctx, st, results.add) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results.services, nil
}

// browse runs a resolver for one service type and hands every usable
// answer to add. It returns once ctx is done and the reader has exited.
func browse(ctx context.Context, serviceType string, add func(*Service)) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mDNS resolver: %w", err)
	}

	answers := make(chan *zeroconf.ServiceEntry)
	var reader sync.WaitGroup
	reader.Add(1)
	go func() {
		defer reader.Done()
		for {
			var e *zeroconf.ServiceEntry
			select {
			case <-ctx.Done():
				return
			case e = <-answers:
			}
			if e == nil {
				// channel closed by the resolver
				return
			}
			svc := parseServiceEntry(e)
			if svc == nil {
				continue
			}
			logging.Debug("Discovered WBEM server",
				zap.String("instance", svc.Instance),
				zap.String("address", svc.Address()),
				zap.Bool("secure", svc.Secure),
			)
			add(svc)
		}
	}()

	if err := resolver.Browse(ctx, serviceType, ServiceDomain, answers); err != nil {
		return fmt.Errorf("browse %s: %w", serviceType, err)
	}
	<-ctx.Done()
	reader.Wait()
	return nil
}

// parseServiceEntry turns a DNS-SD answer into a Service, or nil when the
// answer lacks a host name or an address.
func parseServiceEntry(e *zeroconf.ServiceEntry) *Service {
	if e == nil || e.HostName == "" {
		return nil
	}

	var ip string
	switch {
	case len(e.AddrIPv4) > 0:
		ip = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		ip = e.AddrIPv6[0].String()
	default:
		return nil
	}

	svc := &Service{
		Instance:     e.Instance,
		Hostname:     e.HostName,
		IP:           ip,
		Port:         e.Port,
		Secure:       strings.HasPrefix(e.Service, SecureServiceType),
		Metadata:     make(map[string]string, len(e.Text)),
		DiscoveredAt: time.Now(),
	}
	if svc.Instance == "" {
		svc.Instance = strings.TrimSuffix(e.HostName, ".")
	}
	if svc.Port == 0 {
		svc.Port = DefaultPort
		if svc.Secure {
			svc.Port = DefaultSecurePort
		}
	}
	// Attributes without "=" are flags with an empty value.
	for _, txt := range e.Text {
		k, v, _ := strings.Cut(txt, "=")
		svc.Metadata[k] = v
	}
	return svc
}
