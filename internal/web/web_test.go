package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"attendboard/internal/app"
	"attendboard/internal/apperr"
	"attendboard/internal/config"
	"attendboard/internal/model"
)

type fakeBackend struct {
	mu          sync.Mutex
	events      []model.Event
	students    []model.Student
	checkInErr  error
	checkOutErr error
	commands    int
	created     []model.NewEvent
}

func (f *fakeBackend) ListEvents(ctx context.Context) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Event(nil), f.events...), nil
}

func (f *fakeBackend) ListStudents(ctx context.Context) ([]model.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Student(nil), f.students...), nil
}

func (f *fakeBackend) CreateEvent(ctx context.Context, ev model.NewEvent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, ev)
	id := 100 + len(f.created)
	f.events = append(f.events, model.Event{ID: id, Name: ev.Name, Date: ev.Date, Time: ev.Time, Location: ev.Location})
	return id, nil
}

func (f *fakeBackend) LiveRoster(ctx context.Context, eventID int) (model.LiveSnapshot, error) {
	return model.LiveSnapshot{Count: 1, CheckedInStudents: []model.CheckedInStudent{{StudentID: 7, Name: "Ana Ruiz"}}}, nil
}

func (f *fakeBackend) CheckIn(ctx context.Context, eventID, studentID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands++
	return f.checkInErr
}

func (f *fakeBackend) CheckOut(ctx context.Context, eventID, studentID int) (model.CheckOutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands++
	if f.checkOutErr != nil {
		return model.CheckOutResult{}, f.checkOutErr
	}
	return model.CheckOutResult{DurationMinutes: json.Number("42")}, nil
}

func (f *fakeBackend) Finalize(ctx context.Context, eventID int) (model.FinalizeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands++
	return model.FinalizeResult{TotalAttendees: 1}, nil
}

func (f *fakeBackend) FinalizedAttendance(ctx context.Context, eventID int) (model.FinalizedAttendance, error) {
	return model.FinalizedAttendance{Status: model.ServerStatusNotStarted}, nil
}

func (f *fakeBackend) AttendanceHistory(ctx context.Context, studentID int) ([]model.AttendanceRecord, error) {
	out := "2025-03-01T12:00:00"
	return []model.AttendanceRecord{{StudentID: studentID, EventName: "Kickoff", Date: "2025-03-01", CheckInTime: "2025-03-01T10:00:00", CheckOutTime: &out}}, nil
}

func (f *fakeBackend) commandCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeBackend, *app.App) {
	t.Helper()
	return newTestServerWithDebug(t, false)
}

func newTestServerWithDebug(t *testing.T, debug bool) (*httptest.Server, *fakeBackend, *app.App) {
	t.Helper()
	fb := &fakeBackend{
		events: []model.Event{
			{ID: 2, Name: "Game night", Date: "2025-03-14", Time: "18:30", Location: "Gym"},
			{ID: 1, Name: "Kickoff", Date: "2025-03-01", Time: "10:00", Location: "Hall"},
		},
		students: []model.Student{{ID: 7, FirstName: "Ana", LastName: "Ruiz", Guardians: []string{"Maria Ruiz"}}},
	}
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.PollInterval = config.Duration(time.Hour)
	now := func() time.Time { return time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC) }

	a := app.NewWithBackend(cfg, fb, now)
	a.Load(context.Background())

	ts := httptest.NewServer(NewServer(a, debug).Handler())
	t.Cleanup(func() {
		ts.Close()
		a.Shutdown(context.Background())
	})
	return ts, fb, a
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("health = %d %q", resp.StatusCode, body)
	}
}

func TestDashboardListsSortedEvents(t *testing.T) {
	ts, _, _ := newTestServer(t)
	status, body := do(t, ts, http.MethodGet, "/api/dashboard", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	list := body["list"].([]any)
	if len(list) != 2 || list[0].(map[string]any)["id"].(float64) != 1 {
		t.Fatalf("list = %v", list)
	}
	if body["popup"] != nil {
		t.Fatalf("popup open without a session: %v", body["popup"])
	}
}

func TestMonthNavigation(t *testing.T) {
	ts, _, _ := newTestServer(t)
	status, body := do(t, ts, http.MethodPost, "/api/calendar/month?delta=1", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if label := body["calendar"].(map[string]any)["label"]; label != "April 2025" {
		t.Fatalf("label = %v", label)
	}

	status, body = do(t, ts, http.MethodPost, "/api/calendar/month?delta=soon", "")
	if status != http.StatusBadRequest || !strings.HasPrefix(body["error"].(string), "Invalid input") {
		t.Fatalf("bad delta = %d %v", status, body)
	}
}

func TestOpenUnknownEvent(t *testing.T) {
	ts, _, _ := newTestServer(t)
	status, _ := do(t, ts, http.MethodPost, "/api/events/99/open", "")
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestPopupCommandsNeedAnOpenEvent(t *testing.T) {
	ts, fb, _ := newTestServer(t)
	status, _ := do(t, ts, http.MethodPost, "/api/popup/checkin", `{"studentId":"7"}`)
	if status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", status)
	}
	if fb.commandCount() != 0 {
		t.Fatalf("command reached the backend")
	}
}

func TestCheckInFlow(t *testing.T) {
	ts, fb, _ := newTestServer(t)

	status, body := do(t, ts, http.MethodPost, "/api/events/1/open", "")
	if status != http.StatusOK || body["popup"] == nil {
		t.Fatalf("open = %d %v", status, body)
	}

	status, body = do(t, ts, http.MethodPost, "/api/popup/checkin", `{"studentId":"abc"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("non-numeric id status = %d", status)
	}
	if fb.commandCount() != 0 {
		t.Fatalf("non-numeric id reached the backend")
	}

	status, body = do(t, ts, http.MethodPost, "/api/popup/checkin", `{"studentId":7}`)
	if status != http.StatusOK || body["message"] != "Student 7 checked in successfully." {
		t.Fatalf("checkin = %d %v", status, body)
	}

	status, body = do(t, ts, http.MethodPost, "/api/popup/checkout", `{"studentId":"7"}`)
	if status != http.StatusOK || body["durationMinutes"] != "42" {
		t.Fatalf("checkout = %d %v", status, body)
	}
}

func TestServerRejectionAndNetworkFailure(t *testing.T) {
	ts, fb, _ := newTestServer(t)
	fb.mu.Lock()
	fb.checkInErr = apperr.Rejected("checkin", 404, "Student not found")
	fb.checkOutErr = apperr.Network("checkout", errors.New("connection refused"))
	fb.mu.Unlock()

	do(t, ts, http.MethodPost, "/api/events/1/open", "")

	status, body := do(t, ts, http.MethodPost, "/api/popup/checkin", `{"studentId":"5"}`)
	if status != http.StatusBadGateway || body["error"] != "Server rejected the request: Student not found" {
		t.Fatalf("rejected = %d %v", status, body)
	}

	status, body = do(t, ts, http.MethodPost, "/api/popup/checkout", `{"studentId":"5"}`)
	if status != http.StatusServiceUnavailable || body["error"] != "Could not reach the server. Please try again." {
		t.Fatalf("network = %d %v", status, body)
	}
}

func TestFinalizeLocksThePopup(t *testing.T) {
	ts, fb, _ := newTestServer(t)
	do(t, ts, http.MethodPost, "/api/events/2/open", "")

	status, body := do(t, ts, http.MethodPost, "/api/popup/finalize", "")
	if status != http.StatusOK || body["totalAttendees"].(float64) != 1 {
		t.Fatalf("finalize = %d %v", status, body)
	}
	before := fb.commandCount()

	status, _ = do(t, ts, http.MethodPost, "/api/popup/finalize", "")
	if status != http.StatusConflict {
		t.Fatalf("second finalize = %d", status)
	}
	status, _ = do(t, ts, http.MethodPost, "/api/popup/checkin", `{"studentId":"7"}`)
	if status != http.StatusConflict {
		t.Fatalf("checkin after finalize = %d", status)
	}
	if fb.commandCount() != before {
		t.Fatalf("commands reached the backend after finalize")
	}

	_, body = do(t, ts, http.MethodGet, "/api/dashboard", "")
	popup := body["popup"].(map[string]any)
	if popup["canCheckIn"] != false || popup["status"] != "finalized" {
		t.Fatalf("popup after finalize = %v", popup)
	}
}

func TestCreateEvent(t *testing.T) {
	ts, fb, a := newTestServer(t)

	status, body := do(t, ts, http.MethodPost, "/api/events", `{"name":"Hike","date":"2025-03-22","time":"08:00","location":"Trailhead"}`)
	if status != http.StatusCreated || body["eventId"].(float64) != 101 {
		t.Fatalf("create = %d %v", status, body)
	}
	if _, ok := a.Events.FindByID(101); !ok {
		t.Fatalf("store was not refreshed after create")
	}

	status, _ = do(t, ts, http.MethodPost, "/api/events", `{"name":"Hike","date":"22/03/2025","time":"08:00","location":"x"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("invalid date status = %d", status)
	}
	status, _ = do(t, ts, http.MethodPost, "/api/events", `not json`)
	if status != http.StatusBadRequest {
		t.Fatalf("bad body status = %d", status)
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.created) != 1 {
		t.Fatalf("invalid events reached the backend: %d", len(fb.created))
	}
}

func TestParentLookup(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, body := do(t, ts, http.MethodGet, "/api/students/7/parent", "")
	if status != http.StatusOK || body["name"] != "Ana Ruiz" {
		t.Fatalf("parent = %d %v", status, body)
	}
	history := body["history"].([]any)
	if history[0].(map[string]any)["status"] != "Completed" {
		t.Fatalf("history = %v", history)
	}
	upcoming := body["upcoming"].([]any)
	if len(upcoming) != 1 {
		t.Fatalf("upcoming = %v", upcoming)
	}

	status, _ = do(t, ts, http.MethodGet, "/api/students/8/parent", "")
	if status != http.StatusNotFound {
		t.Fatalf("unknown student = %d", status)
	}
}

func TestCalendarFeed(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/calendar.ics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/calendar") {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}
	if strings.Count(string(body), "BEGIN:VEVENT") != 2 {
		t.Fatalf("feed:\n%s", body)
	}
}

func TestMetricsAndStatic(t *testing.T) {
	ts, _, _ := newTestServer(t)
	do(t, ts, http.MethodPost, "/api/events/1/open", "")
	do(t, ts, http.MethodPost, "/api/popup/checkin", `{"studentId":"x"}`)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `attendboard_commands_total{op="checkin",outcome="validation"} 1`) {
		t.Fatalf("metrics missing command counter:\n%s", body)
	}

	resp, err = http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(page), "Youth Group Dashboard") {
		t.Fatalf("index page not served")
	}

	status, _ := do(t, ts, http.MethodGet, "/api/nope", "")
	if status != http.StatusNotFound {
		t.Fatalf("unknown api path = %d", status)
	}
}

func TestDebugAddsErrorDetail(t *testing.T) {
	ts, _, _ := newTestServer(t)
	code, body := do(t, ts, http.MethodPost, "/api/popup/checkin", `{"studentId":"7"}`)
	if code != http.StatusConflict {
		t.Fatalf("status = %d", code)
	}
	if _, ok := body["detail"]; ok {
		t.Fatalf("detail leaked outside debug mode: %v", body)
	}

	ts, _, _ = newTestServerWithDebug(t, true)
	code, body = do(t, ts, http.MethodPost, "/api/popup/checkin", `{"studentId":"7"}`)
	if code != http.StatusConflict {
		t.Fatalf("debug status = %d", code)
	}
	if body["error"] != "Not allowed: no event is open" {
		t.Fatalf("error = %v", body["error"])
	}
	if body["detail"] != "checkin: invalid_transition: no event is open" {
		t.Fatalf("detail = %v", body["detail"])
	}
}
