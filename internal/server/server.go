// Package server exposes calendar linking, reconciled events and meeting
// lifecycle notifications over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"kaarna/internal/models"
	"kaarna/internal/provider"
)

// UserIDHeader carries the authenticated user. Authentication happens in
// front of this service.
const UserIDHeader = "X-User-ID"

// Linker links and unlinks calendar accounts.
type Linker interface {
	SupportedProviders() []models.ProviderType
	AuthorizationURL(ctx context.Context, t models.ProviderType, state *provider.State, promptConsent bool) (string, error)
	CompleteLink(ctx context.Context, t models.ProviderType, code string, state *provider.State) (*models.Credential, error)
	Unlink(ctx context.Context, t models.ProviderType, userID int64) error
	DeleteUser(ctx context.Context, userID int64) error
}

// EventSource returns a user's external events for a meeting.
type EventSource interface {
	EventsForMeeting(ctx context.Context, t models.ProviderType, userID, meetingID int64) ([]models.Event, error)
}

// Meetings applies meeting lifecycle changes.
type Meetings interface {
	Get(ctx context.Context, meetingID int64) (*models.Meeting, error)
	Schedule(ctx context.Context, meetingID int64, start, end time.Time) error
	Unschedule(ctx context.Context, meetingID int64) error
	Edit(ctx context.Context, meeting *models.Meeting) error
	Delete(ctx context.Context, meetingID int64) error
	AddRespondent(ctx context.Context, meetingID, userID int64) (int64, error)
	RemoveRespondent(ctx context.Context, meetingID, userID int64) error
}

type Server struct {
	logger   *slog.Logger
	echo     *echo.Echo
	linker   Linker
	events   EventSource
	meetings Meetings
}

func New(logger *slog.Logger, linker Linker, events EventSource, meetings Meetings) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{logger: logger, echo: e, linker: linker, events: events, meetings: meetings}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "path", v.URIPath, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			logger.Debug("Handled request", attrs...)
			return nil
		},
	}))
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/api/server-info", s.serverInfo)

	me := s.echo.Group("/api/me/calendars/:provider", requireUser, s.requireProvider)
	me.POST("/link", s.link)
	me.DELETE("/link", s.unlink)
	me.GET("/events", s.listEvents)

	s.echo.GET("/redirect/:provider", s.redirect, s.requireProvider)

	s.echo.POST("/internal/meetings/:id/events", s.meetingEvent)
	s.echo.DELETE("/internal/users/:id", s.deleteUser)
}

// ServeHTTP makes the server usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting HTTP server", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := strconv.ParseInt(c.Request().Header.Get(UserIDHeader), 10, 64)
		if err != nil || userID <= 0 {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid "+UserIDHeader)
		}
		c.Set("userID", userID)
		return next(c)
	}
}

func userID(c echo.Context) int64 {
	return c.Get("userID").(int64)
}

func (s *Server) requireProvider(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, ok := models.ParseProviderType(strings.ToLower(c.Param("provider")))
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "unknown provider")
		}
		c.Set("provider", t)
		return next(c)
	}
}

func providerType(c echo.Context) models.ProviderType {
	return c.Get("provider").(models.ProviderType)
}

// httpError maps service errors to API responses.
func (s *Server) httpError(err error) error {
	switch {
	case errors.Is(err, provider.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusNotFound, "provider is not configured")
	case errors.Is(err, provider.ErrInvalidState), errors.Is(err, provider.ErrInvalidOrExpiredNonce):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	s.logger.Error("Request failed", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError)
}
