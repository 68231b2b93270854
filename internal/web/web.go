package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"calgrid/internal/availability"
	"calgrid/internal/config"
	"calgrid/internal/conflict"
	"calgrid/internal/i18n"
	"calgrid/internal/ics"
	"calgrid/internal/interval"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/recurrence"
	"calgrid/internal/service"
	"calgrid/internal/store"
)

// errBadRequest marks malformed query parameters.
var errBadRequest = errors.New("bad request")

// Server exposes the engines over HTTP.
type Server struct {
	cfg *config.Config
	svc *service.Service
	tr  *i18n.Translator
	e   *echo.Echo
	now func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc *service.Service, tr *i18n.Translator) *Server {
	s := &Server{cfg: cfg, svc: svc, tr: tr, e: echo.New(), now: time.Now}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.HTTPErrorHandler = s.handleError

	s.e.Use(middleware.Recover())
	s.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			appLog.Debug("http request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency.String())
			return nil
		},
	}))
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+cfg.Listen)
		s.e.Use(middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
			// /health 는 항상 무인증으로 노출한다.
			Skipper: func(c echo.Context) bool { return c.Path() == "/health" },
			Validator: func(u, p string, _ echo.Context) (bool, error) {
				return secureCompare(u, cfg.BasicAuth.Username) && secureCompare(p, cfg.BasicAuth.Password), nil
			},
			Realm: "calgrid",
		}))
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler { return s.e }

// Start blocks serving cfg.Listen until Shutdown; it then returns
// http.ErrServerClosed.
func (s *Server) Start() error {
	appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
	return s.e.Start(s.cfg.Listen)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.e.GET("/health", s.handleHealth)

	api := s.e.Group("/api")
	api.GET("/events", s.handleEvents)
	api.GET("/layout", s.handleLayout)
	api.GET("/availability", s.handleAvailability)
	api.GET("/conflicts", s.handleConflicts)
	api.GET("/rooms", s.handleRooms)
	api.POST("/recurrence/expand", s.handleExpand)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

type eventsResponse struct {
	Events     []model.Event `json:"events"`
	RangeStart time.Time     `json:"range_start"`
	RangeEnd   time.Time     `json:"range_end"`
	TimeZone   string        `json:"timezone"`
}

// handleEvents lists stored events.
//
// GET /api/events?calendar=&from=&to=&resource=kind:id
//
// from/to default to the start of yesterday and HorizonDays ahead.
func (s *Server) handleEvents(c echo.Context) error {
	from, to, err := s.window(c)
	if err != nil {
		return err
	}
	q := store.Query{CalendarID: c.QueryParam("calendar"), From: from, To: to}
	if raw := c.QueryParam("resource"); raw != "" {
		r, err := model.ParseResource(raw)
		if err != nil {
			return err
		}
		q.Resource = &r
	}
	events, err := s.svc.Events(c.Request().Context(), q)
	if err != nil {
		return err
	}
	if events == nil {
		events = []model.Event{}
	}
	return c.JSON(http.StatusOK, eventsResponse{
		Events:     events,
		RangeStart: from,
		RangeEnd:   to,
		TimeZone:   s.svc.Zone().Name(),
	})
}

// GET /api/layout?calendar=&from=&to=
func (s *Server) handleLayout(c echo.Context) error {
	from, to, err := s.window(c)
	if err != nil {
		return err
	}
	res, err := s.svc.Layout(c.Request().Context(), c.QueryParam("calendar"), from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// GET /api/availability?day=YYYY-MM-DD&resource=kind:id...
func (s *Server) handleAvailability(c echo.Context) error {
	day, err := availability.ParseDay(c.QueryParam("day"))
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	resources, err := resourcesParam(c)
	if err != nil {
		return err
	}
	if len(resources) == 0 {
		return fmt.Errorf("%w: at least one resource is required", errBadRequest)
	}
	res, err := s.svc.Availability(c.Request().Context(), day, resources)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type conflictsResponse struct {
	conflict.Response
	Messages []string `json:"messages,omitempty"`
}

// handleConflicts has two modes.
//
// GET /api/conflicts?calendar=&from=&to=&resource=kind:id...[&exclude=][&session=]
// checks the candidate [from, to) for the listed resources. With a session
// id, a newer request of the same session supersedes an older one, which
// then answers status "stale".
//
// GET /api/conflicts?calendar=&from=&to= lists every collision inside the
// window.
func (s *Server) handleConflicts(c echo.Context) error {
	ctx := c.Request().Context()
	from, to, err := parseRange(c, s.svc)
	if err != nil {
		return err
	}
	resources, err := resourcesParam(c)
	if err != nil {
		return err
	}
	calendar := c.QueryParam("calendar")
	locale := localeOf(c, s.cfg)

	if len(resources) == 0 {
		entries, err := s.svc.CalendarConflicts(ctx, calendar, from, to)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, s.conflictsBody(locale, conflict.Report{Status: conflict.StatusKnown, Entries: entries}))
	}

	q := conflict.Query{
		CalendarID: calendar,
		Candidate:  interval.Interval{Start: from, End: to},
		Resources:  resources,
		ExcludeID:  c.QueryParam("exclude"),
	}
	var rep conflict.Report
	if session := c.QueryParam("session"); session != "" {
		if rep, err = s.svc.CheckCandidate(ctx, session, q); err != nil {
			return err
		}
	} else {
		entries, err := s.svc.Conflicts(ctx, q)
		switch {
		case errors.Is(err, conflict.ErrUnreachableConflictSource):
			appLog.Warn("conflict check failed", "calendar", calendar, "err", err)
			rep = conflict.Report{Query: q, Status: conflict.StatusUnknown, Err: err}
		case err != nil:
			return err
		default:
			rep = conflict.Report{Query: q, Status: conflict.StatusKnown, Entries: entries}
		}
	}
	return c.JSON(http.StatusOK, s.conflictsBody(locale, rep))
}

func (s *Server) conflictsBody(locale string, rep conflict.Report) conflictsResponse {
	body := conflictsResponse{Response: conflict.Response{Status: rep.Status, Conflicts: rep.Entries}}
	if body.Conflicts == nil {
		body.Conflicts = []conflict.Entry{}
	}
	switch rep.Status {
	case conflict.StatusUnknown:
		body.Messages = []string{s.tr.T(locale, i18n.ConflictUnknown, nil)}
	case conflict.StatusKnown:
		body.Messages = s.conflictMessages(locale, rep.Entries)
	}
	return body
}

func (s *Server) conflictMessages(locale string, entries []conflict.Entry) []string {
	if len(entries) == 0 {
		return []string{s.tr.T(locale, i18n.ConflictNone, nil)}
	}
	zone := s.svc.Zone()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		key := i18n.ConflictParticipantBusy
		if e.Resource.Kind == model.KindRoom {
			key = i18n.ConflictRoomBusy
		}
		out = append(out, s.tr.T(locale, key, map[string]any{
			"Resource": e.Resource.ID,
			"Title":    e.Title,
			"From":     zone.In(e.Overlap.Start).Format("15:04"),
			"To":       zone.In(e.Overlap.End).Format("15:04"),
		}))
	}
	return out
}

func (s *Server) handleRooms(c echo.Context) error {
	return c.JSON(http.StatusOK, s.cfg.Rooms)
}

// expandRequest is the body of POST /api/recurrence/expand. The rule is
// either structured or an RRULE string.
type expandRequest struct {
	Event model.Event      `json:"event"`
	Rule  *recurrence.Rule `json:"rule,omitempty"`
	RRule string           `json:"rrule,omitempty"`
}

type expandResponse struct {
	service.SeriesPlan
	ConflictStatus conflict.Status `json:"conflict_status"`
	Warnings       []string        `json:"warnings,omitempty"`
}

// handleExpand materializes a series and checks each occurrence.
//
// POST /api/recurrence/expand[?format=ics]
func (s *Server) handleExpand(c echo.Context) error {
	var req expandRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	rule, err := req.rule()
	if err != nil {
		return err
	}
	ev := req.Event
	if ev.Status == "" {
		ev.Status = model.StatusConfirmed
	}
	locale := localeOf(c, s.cfg)

	plan, err := s.svc.PlanSeries(c.Request().Context(), ev, rule)
	resp := expandResponse{SeriesPlan: plan, ConflictStatus: conflict.StatusKnown}
	switch {
	case errors.Is(err, conflict.ErrUnreachableConflictSource):
		appLog.Warn("series conflict check failed", "event", ev.ID, "err", err)
		resp.ConflictStatus = conflict.StatusUnknown
		resp.Warnings = append(resp.Warnings, s.tr.T(locale, i18n.ConflictUnknown, nil))
	case err != nil:
		return err
	default:
		if len(plan.Conflicts) > 0 {
			resp.Warnings = append(resp.Warnings, s.conflictMessages(locale, plan.Conflicts)...)
		}
	}
	if plan.Truncated {
		resp.Warnings = append(resp.Warnings, s.tr.N(locale, i18n.RecurrenceTruncated, len(plan.Occurrences), nil))
	}

	if c.QueryParam("format") == "ics" {
		body := ics.Export(ev.Title, plan.Occurrences, s.svc.Zone())
		return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
	}
	return c.JSON(http.StatusOK, resp)
}

func (r expandRequest) rule() (recurrence.Rule, error) {
	switch {
	case r.Rule != nil && r.RRule != "":
		return recurrence.Rule{}, fmt.Errorf("%w: send rule or rrule, not both", errBadRequest)
	case r.Rule != nil:
		return *r.Rule, nil
	case r.RRule != "":
		return recurrence.ParseRule(r.RRule)
	default:
		return recurrence.Rule{}, fmt.Errorf("%w: rule is required", recurrence.ErrInvalidRecurrenceRule)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// handleError maps domain errors to status codes; validation failures carry
// a localized message.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}
	locale := localeOf(c, s.cfg)

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status = he.Code
		resp.Error = fmt.Sprint(he.Message)
	case errors.Is(err, interval.ErrInvalidInterval):
		status = http.StatusBadRequest
		resp.Message = s.tr.T(locale, i18n.ErrorInvalidInterval, nil)
	case errors.Is(err, recurrence.ErrInvalidRecurrenceRule):
		status = http.StatusBadRequest
		resp.Message = s.tr.T(locale, i18n.ErrorInvalidRule, map[string]any{"Reason": err.Error()})
	case errors.Is(err, errBadRequest), errors.Is(err, model.ErrInvalidResource):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	}
	if status >= http.StatusInternalServerError {
		appLog.Error("request failed", err, "method", c.Request().Method, "uri", c.Request().RequestURI)
		resp.Error = http.StatusText(status)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, resp)
	}
	if err != nil {
		appLog.Error("failed to write error response", err)
	}
}

// window reads from/to with defaults for listing endpoints.
func (s *Server) window(c echo.Context) (time.Time, time.Time, error) {
	zone := s.svc.Zone()
	today := availability.DayOf(zone, s.now()).Bounds(zone).Start
	from, to := today.AddDate(0, 0, -1), today.AddDate(0, 0, s.cfg.HorizonDays)
	var err error
	if raw := c.QueryParam("from"); raw != "" {
		if from, err = parseInstant(raw, s.svc); err != nil {
			return from, to, err
		}
	}
	if raw := c.QueryParam("to"); raw != "" {
		if to, err = parseInstant(raw, s.svc); err != nil {
			return from, to, err
		}
	}
	if _, err := interval.New(from, to); err != nil {
		return from, to, err
	}
	return from, to, nil
}

// parseRange reads the required from/to pair.
func parseRange(c echo.Context, svc *service.Service) (time.Time, time.Time, error) {
	rawFrom, rawTo := c.QueryParam("from"), c.QueryParam("to")
	if rawFrom == "" || rawTo == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from and to are required", errBadRequest)
	}
	from, err := parseInstant(rawFrom, svc)
	if err != nil {
		return from, from, err
	}
	to, err := parseInstant(rawTo, svc)
	if err != nil {
		return from, to, err
	}
	if _, err := interval.New(from, to); err != nil {
		return from, to, err
	}
	return from, to, nil
}

// parseInstant accepts RFC3339 or a YYYY-MM-DD business day (its midnight).
func parseInstant(raw string, svc *service.Service) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	day, err := availability.ParseDay(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q: want RFC3339 or YYYY-MM-DD", errBadRequest, raw)
	}
	return day.Bounds(svc.Zone()).Start, nil
}

// resourcesParam reads repeated or comma-separated resource=kind:id.
func resourcesParam(c echo.Context) ([]model.Resource, error) {
	var out []model.Resource
	for _, raw := range c.QueryParams()["resource"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			r, err := model.ParseResource(part)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// localeOf picks ?lang=, then Accept-Language, then the configured locale.
func localeOf(c echo.Context, cfg *config.Config) string {
	if l := c.QueryParam("lang"); l != "" {
		return l
	}
	if l := c.Request().Header.Get("Accept-Language"); l != "" {
		return l
	}
	if cfg != nil {
		return cfg.Locale
	}
	return ""
}
