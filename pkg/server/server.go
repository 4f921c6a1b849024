package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gematik/zero-gate/pkg/config"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
)

// Server accepts connections on a plain and a TLS listener at the same time.
// Every connection is served by its own goroutine; a failed TLS handshake
// only closes that connection.
type Server struct {
	handler         http.Handler
	httpAddr        string
	httpsAddr       string
	tlsConfig       *tls.Config
	shutdownTimeout time.Duration
	logger          *slog.Logger

	conns sync.Map
}

type Option func(*Server) error

func WithHTTP(addr string) Option {
	return func(s *Server) error {
		if addr == "" {
			return errors.New("http address must not be empty")
		}
		s.httpAddr = addr
		return nil
	}
}

func WithTLS(addr string, cert tls.Certificate) Option {
	return func(s *Server) error {
		if addr == "" {
			return errors.New("https address must not be empty")
		}
		s.httpsAddr = addr
		s.tlsConfig = TLSConfig(cert)
		return nil
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return errors.New("shutdown timeout must be positive")
		}
		s.shutdownTimeout = d
		return nil
	}
}

// WithLogger sets the logger for connection events and TLS handshake errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

func New(handler http.Handler, options ...Option) (*Server, error) {
	s := &Server{
		handler:         handler,
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          slog.Default(),
	}
	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewFromConfig creates the server for the website configuration. Errors
// loading the TLS material are returned as is.
func NewFromConfig(handler http.Handler, cfg *config.Config) (*Server, error) {
	website := cfg.Website
	options := []Option{WithShutdownTimeout(website.ShutdownTimeout)}
	if website.HTTPEnabled {
		options = append(options, WithHTTP(website.HTTPAddress()))
	}
	if website.BindSSLConfig.Enabled {
		cert, err := LoadKeyPair(cfg.AbsPath(website.BindSSLConfig.CertPath), cfg.AbsPath(website.BindSSLConfig.KeyPath))
		if err != nil {
			return nil, err
		}
		options = append(options, WithTLS(website.HTTPSAddress(), cert))
	}
	return New(handler, options...)
}

// Run listens on the configured addresses and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	var plain, secure net.Listener
	var err error

	if s.httpAddr != "" {
		if plain, err = lc.Listen(ctx, "tcp", s.httpAddr); err != nil {
			return fmt.Errorf("listen on %s: %w", s.httpAddr, err)
		}
	}
	if s.tlsConfig != nil {
		if secure, err = lc.Listen(ctx, "tcp", s.httpsAddr); err != nil {
			if plain != nil {
				plain.Close()
			}
			return fmt.Errorf("listen on %s: %w", s.httpsAddr, err)
		}
	}
	return s.Serve(ctx, plain, secure)
}

// Serve serves on the given listeners, either of which may be nil. secure is
// wrapped into a TLS listener. Serve returns after both listeners shut down.
func (s *Server) Serve(ctx context.Context, plain, secure net.Listener) error {
	type listener struct {
		name string
		net.Listener
	}
	var listeners []listener
	if plain != nil {
		listeners = append(listeners, listener{"http", plain})
	}
	if secure != nil {
		if s.tlsConfig == nil {
			return errors.New("tls listener without certificate")
		}
		listeners = append(listeners, listener{"https", tls.NewListener(secure, s.tlsConfig)})
	}
	if len(listeners) == 0 {
		return errors.New("no listener configured")
	}

	servers := make([]*http.Server, len(listeners))
	for i := range listeners {
		servers[i] = s.newHTTPServer()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, l := range listeners {
		srv := servers[i]
		g.Go(func() error {
			s.logger.Info("Accepting connections", "listener", l.name, "addr", l.Addr().String())
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s listener: %w", l.name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down", "timeout", s.shutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func (s *Server) newHTTPServer() *http.Server {
	return &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		ConnContext:       s.connContext,
		ConnState:         s.connState,
	}
}

type connIDKey struct{}

// ConnID returns the id of the connection a request arrived on.
func ConnID(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey{}).(string)
	return id
}

func (s *Server) connContext(ctx context.Context, c net.Conn) context.Context {
	id := ksuid.New().String()
	s.conns.Store(c, id)
	return context.WithValue(ctx, connIDKey{}, id)
}

func (s *Server) connState(c net.Conn, state http.ConnState) {
	id, _ := s.conns.Load(c)
	s.logger.Debug("Connection state", "conn_id", id, "remote_addr", c.RemoteAddr().String(), "state", state.String())
	if state == http.StateClosed || state == http.StateHijacked {
		s.conns.Delete(c)
	}
}
