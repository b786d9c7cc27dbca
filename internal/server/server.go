// Package server hosts the kernel behind net/http: a configured http.Server
// plus ordered resource teardown on shutdown signals, so the listener drains
// before the stores underneath it go away.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Config holds the HTTP server settings.
type Config struct {
	// Addr is the host:port to bind.
	Addr string

	// Logger for structured logging (optional, uses slog.Default if nil).
	Logger *slog.Logger

	// ReadTimeout caps reading the entire request, header and body.
	ReadTimeout time.Duration

	// WriteTimeout caps writing the response.
	WriteTimeout time.Duration

	// IdleTimeout caps keep-alive waits between requests.
	IdleTimeout time.Duration

	// MaxHeaderBytes caps request header parsing. Default 1 MiB.
	MaxHeaderBytes int

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string
	TLSKeyFile  string

	// ShutdownTimeout bounds graceful teardown of the server and every
	// registered resource together.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a server configuration with conservative timeouts.
func DefaultConfig(addr string) *Config {
	return &Config{
		Addr:            addr,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// New builds the http.Server. Its error log is routed into slog at Error
// level so transport noise lands in the same stream as everything else.
func New(handler http.Handler, config *Config) *http.Server {
	if config == nil {
		config = DefaultConfig(":8080")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxHeaderBytes := config.MaxHeaderBytes
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = 1 << 20
	}

	server := &http.Server{
		Addr:           config.Addr,
		Handler:        handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	logger.Info("http server configured",
		"addr", config.Addr,
		"read_timeout", config.ReadTimeout.String(),
		"write_timeout", config.WriteTimeout.String(),
		"idle_timeout", config.IdleTimeout.String(),
	)
	return server
}

// Start runs the server until a shutdown signal or a listener failure, then
// tears everything down in reverse registration order: the HTTP server is
// registered last so it closes first, draining in-flight requests while the
// resources they use are still alive. Start blocks for the server's entire
// lifetime and returns whatever the listener and the teardown produced.
func Start(handler http.Handler, config *Config, resources []Resource) error {
	if config == nil {
		config = DefaultConfig(":8080")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv := New(handler, config)

	manager := NewShutdownManager(&ShutdownConfig{
		Logger:  logger,
		Timeout: config.ShutdownTimeout,
	})
	for _, r := range resources {
		manager.Register(r)
	}
	manager.Register(NewHTTPServerResource("http-server", srv))

	var listenErr error
	go func() {
		var err error
		if config.TLSCertFile != "" && config.TLSKeyFile != "" {
			logger.Info("listening with tls", "addr", config.Addr, "cert", config.TLSCertFile)
			err = srv.ListenAndServeTLS(config.TLSCertFile, config.TLSKeyFile)
		} else {
			logger.Info("listening", "addr", config.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			// The write happens before Trigger closes the channel Wait
			// receives on, so reading it after Wait returns is safe.
			listenErr = err
			logger.Error("listener failed", "error", err)
			manager.Trigger()
		}
	}()

	waitErr := manager.Wait()
	return errors.Join(listenErr, waitErr)
}
