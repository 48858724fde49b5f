// Package api exposes the authorization oracle over HTTP: the
// is-authorized endpoint consulted by front-end servers on every
// request, the login/token endpoints that establish sessions, and the
// admin API that manages sites' access control rules.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gatewarden/gatewarden/pkg/config"
	"github.com/gatewarden/gatewarden/pkg/mailer"
	"github.com/gatewarden/gatewarden/pkg/site"
	"github.com/gatewarden/gatewarden/pkg/store"
	"github.com/gatewarden/gatewarden/pkg/token"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log      logrus.FieldLogger
	cfg      *config.Config
	store    store.Store
	cache    *site.Cache
	logins   *token.LoginCodec
	sessions *token.SessionCodec
	sender   mailer.Sender
	metrics  *metrics

	httpServer *http.Server
	group      *errgroup.Group
	cancel     context.CancelFunc
}

// NewServer creates a new API server.
func NewServer(log logrus.FieldLogger, cfg *config.Config) Server {
	return &server{
		log: log.WithField("component", "api"),
		cfg: cfg,
	}
}

// Start opens the store, builds the site cache and codecs, and starts
// the HTTP server together with the cache pruner.
func (s *server) Start(ctx context.Context) error {
	s.store = store.NewStore(s.log, &s.cfg.Database, s.cfg.Limits)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	s.cache = site.NewCache(s.log, s.store, site.DefaultMaxIdle)
	s.logins = token.NewLoginCodec(
		[]byte(s.cfg.Auth.TokenSecret), s.cfg.TokenTTL(),
	)
	s.sessions = token.NewSessionCodec(
		[]byte(s.cfg.Auth.SessionSecret), s.cfg.SessionTTL(),
	)
	s.metrics = newMetrics()

	sender, err := mailer.New(s.log, &s.cfg.Mailer)
	if err != nil {
		return fmt.Errorf("creating mailer: %w", err)
	}

	s.sender = sender

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	groupCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group, groupCtx = errgroup.WithContext(groupCtx)

	s.group.Go(func() error {
		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("Authorization server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	s.group.Go(func() error {
		err := s.cache.Run(groupCtx)
		if err != nil && err != context.Canceled {
			return err
		}

		return nil
	})

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	if s.cancel != nil {
		s.cancel()
	}

	if s.group != nil {
		if err := s.group.Wait(); err != nil {
			s.log.WithError(err).Warn("Server goroutine error")
		}
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("Authorization server stopped")

	return nil
}
