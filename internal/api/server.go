// Package api serves the HTTP pairing surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/infra/metrics"
	"fleetbot/internal/service/session"
)

// Sessions is the part of the session registry the API drives.
type Sessions interface {
	Pair(ctx context.Context, accountID string) (session.Outcome, error)
	Get(accountID string) (*session.Supervisor, bool)
	Status(accountID string) (session.Status, bool)
	Stop(ctx context.Context, accountID string)
	Logout(ctx context.Context, accountID string) error
	List() []string
}

// Server wraps the echo instance.
type Server struct {
	echo        *echo.Echo
	sessions    Sessions
	metrics     *metrics.Metrics
	pairTimeout time.Duration
	log         waLog.Logger
}

// New creates a Server and registers its routes. pairTimeout bounds how long
// a /code request waits for the pairing code.
func New(sessions Sessions, m *metrics.Metrics, pairTimeout time.Duration, log waLog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:        e,
		sessions:    sessions,
		metrics:     m,
		pairTimeout: pairTimeout,
		log:         log.Sub("API"),
	}
	e.Use(s.requestLog)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/code", s.getCode)
	s.echo.GET("/qr/:number", s.getQR)
	s.echo.GET("/status/:number", s.getStatus)
	s.echo.DELETE("/session/:number", s.deleteSession)
	s.echo.GET("/sessions", s.listSessions)
	s.echo.GET("/health", s.getHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// requestLog logs every request at debug level and failures at warn.
func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		status := c.Response().Status
		if status >= http.StatusInternalServerError {
			s.log.Warnf("%s %s -> %d (%s)", c.Request().Method, c.Request().URL.Path, status, time.Since(start))
		} else {
			s.log.Debugf("%s %s -> %d (%s)", c.Request().Method, c.Request().URL.Path, status, time.Since(start))
		}
		return nil
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Infof("Listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
