package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/muurk/wbemd/internal/config"
	"github.com/muurk/wbemd/internal/discovery"
	"github.com/muurk/wbemd/internal/logging"
	"github.com/muurk/wbemd/internal/message"
	"github.com/muurk/wbemd/internal/monitor"
	"github.com/muurk/wbemd/internal/secure"
	"github.com/muurk/wbemd/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// shutdownGrace bounds the wait for in-flight responses on shutdown.
const shutdownGrace = 10 * time.Second

// Server runs the monitor, one acceptor per configured endpoint and the
// responder workers.
type Server struct {
	config     *config.Config
	configPath string // Watched for reloads when set
	logLevel   string // Level of the last applied configuration

	monitor   *monitor.Monitor
	sink      *message.MessageQueue
	responder *Responder
	settings  *transport.SettingsStore
	tlsConfig *tls.Config

	mu        sync.Mutex
	acceptors []*transport.Acceptor
}

// New creates a server for cfg. configPath is the file watched for runtime
// changes; empty disables reloading.
func New(cfg *config.Config, configPath string) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var tlsConfig *tls.Config
	if cfg.EnableHTTPS {
		var err error
		tlsConfig, err = loadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		logging.Info("TLS configuration", secure.LogFields(tlsConfig)...)
	}

	m, err := monitor.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}

	return &Server{
		config:     cfg,
		configPath: configPath,
		logLevel:   cfg.LogLevel,
		monitor:    m,
		sink:       message.NewMessageQueue("requests"),
		responder:  NewResponder(cfg.Responder.ChunkSize),
		settings:   transport.NewSettingsStore(settingsFrom(cfg)),
		tlsConfig:  tlsConfig,
	}, nil
}

// Bind creates and binds every configured acceptor. On failure the
// acceptors bound so far are closed.
func (s *Server) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acfg := range listenerPlan(s.config, s.tlsConfig, s.settings) {
		a := transport.NewAcceptor(s.monitor, s.sink, acfg)
		if err := a.Bind(); err != nil {
			a.Close()
			for _, bound := range s.acceptors {
				bound.Close()
			}
			s.acceptors = nil
			return err
		}
		scheme := "http"
		if acfg.TLS != nil {
			scheme = "https"
		}
		logging.Info("Listening for connections",
			zap.Stringer("kind", acfg.Kind),
			zap.String("scheme", scheme),
			zap.String("address", acfg.Address()),
			zap.Int("port", a.PortNumber()),
		)
		s.acceptors = append(s.acceptors, a)
	}
	return nil
}

// Acceptors returns the bound acceptors.
func (s *Server) Acceptors() []*transport.Acceptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*transport.Acceptor(nil), s.acceptors...)
}

// Settings returns the live connection limits.
func (s *Server) Settings() *transport.SettingsStore { return s.settings }

// Run serves until ctx is done, then shuts down gracefully. Bind must have
// succeeded.
func (s *Server) Run(ctx context.Context) error {
	acceptors := s.Acceptors()
	if len(acceptors) == 0 {
		return errors.New("no acceptors bound")
	}

	// The group outlives ctx so that responses in flight can complete.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return s.monitor.Serve(gctx, s.config.MonitorTimeout)
	})
	for _, a := range acceptors {
		g.Go(func() error { return a.Run(gctx) })
	}
	for i := 0; i < s.config.Responder.Workers; i++ {
		g.Go(func() error { return s.sink.Run(gctx, s.responder.Handle) })
	}
	if s.configPath != "" {
		g.Go(func() error {
			if err := config.Watch(gctx, s.configPath, s.applyReload); err != nil {
				logging.Warn("Configuration reload disabled", zap.Error(err))
			}
			return nil
		})
	}
	if s.config.Advertise.Enabled {
		announcements := s.announcements()
		g.Go(func() error {
			if err := discovery.Advertise(gctx, announcements); err != nil {
				logging.Warn("Service advertisement failed", zap.Error(err))
			}
			return nil
		})
	}

	logging.Info("Server started", zap.Int("acceptors", len(acceptors)))

	select {
	case <-ctx.Done():
		s.drain()
	case <-gctx.Done():
	}
	cancel()
	err := g.Wait()

	s.sink.Close()
	for _, a := range acceptors {
		a.Close()
	}
	logging.Info("Server stopped")
	return err
}

// applyReload publishes the reloadable limits of a new configuration and
// follows changes of its log level. It runs on the watcher goroutine only.
func (s *Server) applyReload(cfg *config.Config) {
	if cfg.LogLevel != "" && cfg.LogLevel != s.logLevel {
		if err := logging.SetLevel(cfg.LogLevel); err != nil {
			logging.Warn("Ignoring unknown log level", zap.String("log_level", cfg.LogLevel))
		} else {
			s.logLevel = cfg.LogLevel
		}
	}

	next := s.settings.Load()
	next.IdleTimeout = cfg.IdleConnectionTimeout
	next.WriteTimeout = cfg.SocketWriteTimeout
	s.settings.Store(next)
	logging.Info("Connection limits updated",
		zap.Duration("idle_timeout", next.IdleTimeout),
		zap.Duration("write_timeout", next.WriteTimeout),
	)
}

func (s *Server) announcements() []discovery.Announcement {
	var out []discovery.Announcement
	for _, a := range s.Acceptors() {
		cfg := a.Config()
		if cfg.Kind == transport.AddressLocal {
			continue
		}
		// One announcement per port; IPv4 and IPv6 listeners share it.
		dup := false
		for _, prev := range out {
			if prev.Port == a.PortNumber() {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		out = append(out, discovery.Announcement{
			Instance: s.config.Advertise.Instance,
			Port:     a.PortNumber(),
			Secure:   cfg.TLS != nil,
		})
	}
	return out
}

// drain stops accepting and waits a bounded time for outstanding
// responses while the monitor and workers keep running.
func (s *Server) drain() {
	logging.Info("Shutting down server...")

	s.monitor.RequestShutdown(false)
	for _, a := range s.Acceptors() {
		a.CloseListenSocket()
	}

	deadline := time.Now().Add(shutdownGrace)
	for time.Now().Before(deadline) && s.OutstandingRequestCount() > 0 {
		time.Sleep(50 * time.Millisecond)
	}
	if n := s.OutstandingRequestCount(); n > 0 {
		logging.Warn("Shutdown timeout, dropping outstanding requests", zap.Int("outstanding", n))
	} else {
		logging.Info("All responses delivered")
	}
}

// Close releases the monitor. Call it after Run returned.
func (s *Server) Close() error {
	defer logging.Sync()
	return s.monitor.Close()
}

// OutstandingRequestCount sums requests still waiting for a response.
func (s *Server) OutstandingRequestCount() int {
	n := 0
	for _, a := range s.Acceptors() {
		n += a.OutstandingRequestCount()
	}
	return n
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	n := 0
	for _, a := range s.Acceptors() {
		n += len(a.Connections())
	}
	return n
}
