package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attendboard/internal/app"
	"attendboard/internal/apperr"
	"attendboard/internal/ics"
	appLog "attendboard/internal/log"
	"attendboard/internal/model"
)

// maxBody bounds request bodies on the command endpoints.
const maxBody = 64 << 10

// Server provides the dashboard page and its JSON API. Every handler reads
// from or acts on the single App; the server keeps no state of its own.
type Server struct {
	app   *app.App
	debug bool
	mux   *http.ServeMux
}

// embeddedStatic contains the dashboard page.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(a *app.App, debug bool) *Server {
	s := &Server{
		app:   a,
		debug: debug,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// NewHTTPServer wraps the handler in an http.Server bound to listen. The
// caller owns ListenAndServe and Shutdown.
func (s *Server) NewHTTPServer(listen string) *http.Server {
	return &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) registerRoutes() {
	// /health 는 항상 그대로 노출한다.
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendarFeed)

	s.mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
	s.mux.HandleFunc("POST /api/calendar/month", s.handleMonth)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)

	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("POST /api/events/{id}/open", s.handleOpen)

	s.mux.HandleFunc("POST /api/popup/close", s.handleClose)
	s.mux.HandleFunc("POST /api/popup/checkin", s.handleCheckIn)
	s.mux.HandleFunc("POST /api/popup/checkout", s.handleCheckOut)
	s.mux.HandleFunc("POST /api/popup/finalize", s.handleFinalize)

	s.mux.HandleFunc("GET /api/students", s.handleStudents)
	s.mux.HandleFunc("GET /api/students/{id}/parent", s.handleParent)

	// Everything that is not an API route falls back to the embedded page.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendarFeed serves the cached events as an iCalendar feed.
func (s *Server) handleCalendarFeed(w http.ResponseWriter, _ *http.Request) {
	body := ics.Export(s.app.Events.List(), s.app.Location, time.Now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="events.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Views.Dashboard())
}

// handleMonth moves the calendar.
//
// POST /api/calendar/month?delta=-1
// POST /api/calendar/month?year=2025&month=3
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Has("year") || q.Has("month") {
		year, yerr := strconv.Atoi(q.Get("year"))
		month, merr := strconv.Atoi(q.Get("month"))
		if yerr != nil || merr != nil || month < 1 || month > 12 {
			s.fail(w, r, apperr.Validation("month", "year and month must be numbers, month 1-12"))
			return
		}
		writeJSON(w, http.StatusOK, s.app.Views.SetMonth(year, time.Month(month)))
		return
	}

	delta, err := strconv.Atoi(q.Get("delta"))
	if err != nil {
		s.fail(w, r, apperr.Validation("month", "delta must be an integer"))
		return
	}
	writeJSON(w, http.StatusOK, s.app.Views.ShiftMonth(delta))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Events.Refresh(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Views.Dashboard())
}

func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request) {
	events := s.app.Events.List()
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.NewEvent
	if err := decodeBody(r, &ev); err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.app.CreateEvent(r.Context(), ev)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"eventId": id,
		"message": "Event created successfully!",
	})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		s.fail(w, r, apperr.Validation("open", "event id must be a positive integer"))
		return
	}
	if _, err := s.app.Sessions.Open(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Views.Dashboard())
}

func (s *Server) handleClose(w http.ResponseWriter, _ *http.Request) {
	s.app.Sessions.Close()
	writeJSON(w, http.StatusOK, s.app.Views.Dashboard())
}

// studentRequest accepts the id as a JSON string or number; validation of
// the text happens in the command layer.
type studentRequest struct {
	StudentID json.RawMessage `json:"studentId"`
}

func (q studentRequest) raw() string {
	var s string
	if err := json.Unmarshal(q.StudentID, &s); err == nil {
		return s
	}
	return string(q.StudentID)
}

type commandResponse struct {
	Message         string `json:"message"`
	StudentID       int    `json:"studentId,omitempty"`
	DurationMinutes string `json:"durationMinutes,omitempty"`
	TotalAttendees  *int   `json:"totalAttendees,omitempty"`
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	eventID, req, ok := s.popupCommand(w, r, "checkin")
	if !ok {
		return
	}
	res, err := s.app.Sessions.CheckIn(r.Context(), eventID, req.raw())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Message: res.Message(), StudentID: res.StudentID})
}

func (s *Server) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	eventID, req, ok := s.popupCommand(w, r, "checkout")
	if !ok {
		return
	}
	res, err := s.app.Sessions.CheckOut(r.Context(), eventID, req.raw())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{
		Message:         res.Message(),
		StudentID:       res.StudentID,
		DurationMinutes: res.DurationMinutes,
	})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	eventID, ok := s.activeEvent(w, r, "finalize")
	if !ok {
		return
	}
	res, err := s.app.Sessions.Finalize(r.Context(), eventID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	total := res.TotalAttendees
	writeJSON(w, http.StatusOK, commandResponse{Message: res.Message(), TotalAttendees: &total})
}

// popupCommand resolves the open popup's event and decodes the student id.
func (s *Server) popupCommand(w http.ResponseWriter, r *http.Request, op string) (int, studentRequest, bool) {
	eventID, ok := s.activeEvent(w, r, op)
	if !ok {
		return 0, studentRequest{}, false
	}
	var req studentRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return 0, studentRequest{}, false
	}
	return eventID, req, true
}

func (s *Server) activeEvent(w http.ResponseWriter, r *http.Request, op string) (int, bool) {
	id, ok := s.app.Sessions.ActiveEventID()
	if !ok {
		s.fail(w, r, apperr.InvalidTransition(op, "no event is open"))
		return 0, false
	}
	return id, true
}

func (s *Server) handleStudents(w http.ResponseWriter, _ *http.Request) {
	students := s.app.Roster.List()
	if students == nil {
		students = []model.Student{}
	}
	writeJSON(w, http.StatusOK, students)
}

func (s *Server) handleParent(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.PathValue("id"))
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		s.fail(w, r, apperr.Validation("parent_view", "student id must be a positive integer"))
		return
	}
	info, err := s.app.ParentView(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// staticFileServer returns an http.Handler that serves the embedded page
// from internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Unknown /api/* paths get a JSON 404, never the HTML page.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// fail maps err to a status by kind and writes the user-facing message.
// In debug mode the full error chain is added as "detail".
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("api request failed", err, "method", r.Method, "path", r.URL.Path, "status", status)
	} else {
		appLog.Debug("api request refused", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	body := errorBody{Error: apperr.Message(err)}
	if s.debug {
		body.Detail = err.Error()
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidTransition:
		return http.StatusConflict
	case apperr.KindRejected:
		return http.StatusBadGateway
	case apperr.KindNetwork:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decodeBody reads one JSON object. Malformed bodies are a validation
// failure of the request, not a server error.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("decode", "request body must be a JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
