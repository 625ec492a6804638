package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"kaarna/internal/lifecycle"
	"kaarna/internal/models"
	"kaarna/internal/provider"
	"kaarna/internal/store"
)

type serverInfoResponse struct {
	GoogleOAuth2IsSupported      bool `json:"googleOAuth2IsSupported"`
	MicrosoftOAuth2IsSupported   bool `json:"microsoftOAuth2IsSupported"`
	GoogleCalendarIsSupported    bool `json:"googleCalendarIsSupported"`
	MicrosoftCalendarIsSupported bool `json:"microsoftCalendarIsSupported"`
}

func (s *Server) serverInfo(c echo.Context) error {
	var resp serverInfoResponse
	for _, t := range s.linker.SupportedProviders() {
		switch t {
		case models.ProviderGoogle:
			resp.GoogleOAuth2IsSupported = true
			resp.GoogleCalendarIsSupported = true
		case models.ProviderMicrosoft:
			resp.MicrosoftOAuth2IsSupported = true
			resp.MicrosoftCalendarIsSupported = true
		}
	}
	return c.JSON(http.StatusOK, resp)
}

type linkRequest struct {
	PostRedirect string `json:"postRedirect"`
}

func (s *Server) link(c echo.Context) error {
	var req linkRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.PostRedirect == "" {
		req.PostRedirect = "/"
	}
	if !strings.HasPrefix(req.PostRedirect, "/") || strings.HasPrefix(req.PostRedirect, "//") {
		return echo.NewHTTPError(http.StatusBadRequest, "postRedirect must be a relative path")
	}
	id := userID(c)
	state := &provider.State{Reason: provider.ReasonLink, PostRedirect: req.PostRedirect, UserID: &id}
	redirect, err := s.linker.AuthorizationURL(c.Request().Context(), providerType(c), state, true)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"redirect": redirect})
}

func (s *Server) unlink(c echo.Context) error {
	if err := s.linker.Unlink(c.Request().Context(), providerType(c), userID(c)); err != nil {
		return s.httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// redirect completes an authorization flow started by link.
func (s *Server) redirect(c echo.Context) error {
	t := providerType(c)
	if c.QueryParam("error") != "" {
		s.logger.Warn("Authorization failed at provider", "provider", t,
			"error", c.QueryParam("error"), "description", c.QueryParam("error_description"))
		return c.Redirect(http.StatusFound, errorRedirect("E_INTERNAL_SERVER_ERROR", ""))
	}
	state, err := provider.DecodeState(c.QueryParam("state"))
	if err != nil {
		return s.httpError(err)
	}
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing code")
	}
	// state is unsigned. A session present on the redirect must match state.UserID.
	if err := checkStateUser(c, state); err != nil {
		return err
	}

	ctx := c.Request().Context()
	_, err = s.linker.CompleteLink(ctx, t, code, state)
	switch {
	case err == nil:
		return c.Redirect(http.StatusFound, state.PostRedirect)
	case errors.Is(err, provider.ErrNoRefreshToken):
		// Providers only reissue a refresh token after prompt=consent.
		consentURL, err := s.linker.AuthorizationURL(ctx, t, state, true)
		if err != nil {
			return s.httpError(err)
		}
		return c.Redirect(http.StatusFound, consentURL)
	case errors.Is(err, provider.ErrAccountAlreadyLinked):
		return c.Redirect(http.StatusFound, errorRedirect("E_OAUTH2_ACCOUNT_ALREADY_LINKED", t))
	case errors.Is(err, provider.ErrNotAllScopesGranted):
		return c.Redirect(http.StatusFound, errorRedirect("E_OAUTH2_NOT_ALL_SCOPES_GRANTED", t))
	case errors.Is(err, provider.ErrInvalidState), errors.Is(err, provider.ErrInvalidOrExpiredNonce):
		return s.httpError(err)
	default:
		s.logger.Error("Failed to link calendar", "provider", t, "error", err)
		return c.Redirect(http.StatusFound, errorRedirect("E_INTERNAL_SERVER_ERROR", ""))
	}
}

func checkStateUser(c echo.Context, state *provider.State) error {
	header := c.Request().Header.Get(UserIDHeader)
	if header == "" || state.UserID == nil {
		return nil
	}
	sessionUser, err := strconv.ParseInt(header, 10, 64)
	if err != nil || sessionUser != *state.UserID {
		return echo.NewHTTPError(http.StatusBadRequest, "state does not belong to this session")
	}
	return nil
}

func errorRedirect(code string, t models.ProviderType) string {
	q := url.Values{"e": {code}}
	if t != "" {
		q.Set("provider", strings.ToUpper(string(t)))
	}
	return "/error?" + q.Encode()
}

type eventResponse struct {
	Summary       string `json:"summary"`
	StartDateTime string `json:"startDateTime"`
	EndDateTime   string `json:"endDateTime"`
}

func (s *Server) listEvents(c echo.Context) error {
	meetingID, err := strconv.ParseInt(c.QueryParam("meetingID"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid meetingID")
	}
	events, err := s.events.EventsForMeeting(c.Request().Context(), providerType(c), userID(c), meetingID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "meeting not found")
	}
	if err != nil {
		return s.httpError(err)
	}
	resp := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, eventResponse{
			Summary:       ev.Summary,
			StartDateTime: ev.Start.UTC().Format(time.RFC3339),
			EndDateTime:   ev.End.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"events": resp})
}

type meetingEventRequest struct {
	Kind   lifecycle.Kind `json:"kind"`
	UserID int64          `json:"userID"`
	Start  *time.Time     `json:"start"`
	End    *time.Time     `json:"end"`
	Name   *string        `json:"name"`
	About  *string        `json:"about"`
	// Window fields; a changed window makes the next reconciliation a full sync.
	Timezone       *string  `json:"timezone"`
	MinStartHour   *float64 `json:"minStartHour"`
	MaxEndHour     *float64 `json:"maxEndHour"`
	TentativeDates []string `json:"tentativeDates"`
}

// apply copies the fields present in the request onto m.
func (r *meetingEventRequest) apply(m *models.Meeting) error {
	if r.Name != nil {
		m.Name = *r.Name
	}
	if r.About != nil {
		m.About = *r.About
	}
	if r.Timezone != nil {
		if _, err := time.LoadLocation(*r.Timezone); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid timezone")
		}
		m.Timezone = *r.Timezone
	}
	if r.MinStartHour != nil {
		m.MinStartHour = *r.MinStartHour
	}
	if r.MaxEndHour != nil {
		m.MaxEndHour = *r.MaxEndHour
	}
	if m.MinStartHour < 0 || m.MinStartHour >= 24 || m.MaxEndHour < 0 || m.MaxEndHour > 24 {
		return echo.NewHTTPError(http.StatusBadRequest, "hours must be within 0 and 24")
	}
	if r.TentativeDates != nil {
		if len(r.TentativeDates) == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "tentativeDates must not be empty")
		}
		for _, d := range r.TentativeDates {
			if _, err := time.Parse(time.DateOnly, d); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tentative date "+d)
			}
		}
		m.TentativeDates = r.TentativeDates
	}
	return nil
}

// meetingEvent applies a meeting change made by the meeting service and
// publishes the matching lifecycle event. Edits may change the details and
// the availability window (timezone, hours, tentative dates).
func (s *Server) meetingEvent(c echo.Context) error {
	meetingID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid meeting id")
	}
	var req meetingEventRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	switch req.Kind {
	case lifecycle.MeetingScheduled, lifecycle.MeetingRescheduled:
		if req.Start == nil || req.End == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "start and end are required")
		}
		err = s.meetings.Schedule(ctx, meetingID, *req.Start, *req.End)
	case lifecycle.MeetingUnscheduled:
		err = s.meetings.Unschedule(ctx, meetingID)
	case lifecycle.MeetingEdited:
		var m *models.Meeting
		if m, err = s.meetings.Get(ctx, meetingID); err == nil {
			if err = req.apply(m); err == nil {
				err = s.meetings.Edit(ctx, m)
			}
		}
	case lifecycle.MeetingDeleting:
		err = s.meetings.Delete(ctx, meetingID)
	case lifecycle.RespondentJoined:
		if req.UserID <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "userID is required")
		}
		_, err = s.meetings.AddRespondent(ctx, meetingID, req.UserID)
	case lifecycle.RespondentLeaving:
		if req.UserID <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "userID is required")
		}
		err = s.meetings.RemoveRespondent(ctx, meetingID, req.UserID)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown kind")
	}
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "meeting or respondent not found")
	}
	if err != nil {
		return s.httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// deleteUser revokes the user's calendar access before the account goes.
func (s *Server) deleteUser(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	if err := s.linker.DeleteUser(c.Request().Context(), id); err != nil {
		return s.httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
