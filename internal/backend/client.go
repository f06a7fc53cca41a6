// Package backend is the HTTP client for the youth-group API server. It is
// the only package that talks to the network.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"attendboard/internal/apperr"
	appLog "attendboard/internal/log"
	"attendboard/internal/model"
)

// maxErrorBody bounds how much of an error response is read for the reason.
const maxErrorBody = 64 << 10

// Client calls the backend endpoints. It is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client for baseURL (e.g. "http://127.0.0.1:8000").
// A non-positive timeout falls back to 10s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) ListEvents(ctx context.Context) ([]model.Event, error) {
	var out []model.Event
	if err := c.do(ctx, "list_events", http.MethodGet, "/events", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateEvent validates ev locally and posts it. It returns the id the
// backend assigned.
func (c *Client) CreateEvent(ctx context.Context, ev model.NewEvent) (int, error) {
	if err := ValidateNewEvent(ev); err != nil {
		return 0, err
	}
	var out struct {
		// json matching is case-insensitive, so this also accepts "eventId".
		EventID int `json:"eventID"`
	}
	if err := c.do(ctx, "create_event", http.MethodPost, "/events", ev, &out); err != nil {
		return 0, err
	}
	return out.EventID, nil
}

func (c *Client) LiveRoster(ctx context.Context, eventID int) (model.LiveSnapshot, error) {
	var out model.LiveSnapshot
	path := fmt.Sprintf("/events/%d/live", eventID)
	if err := c.do(ctx, "live", http.MethodGet, path, nil, &out); err != nil {
		return model.LiveSnapshot{}, err
	}
	return out, nil
}

func (c *Client) CheckIn(ctx context.Context, eventID, studentID int) error {
	path := fmt.Sprintf("/events/%d/checkin/%d", eventID, studentID)
	return c.do(ctx, "checkin", http.MethodPost, path, nil, nil)
}

func (c *Client) CheckOut(ctx context.Context, eventID, studentID int) (model.CheckOutResult, error) {
	var out model.CheckOutResult
	path := fmt.Sprintf("/events/%d/checkout/%d", eventID, studentID)
	if err := c.do(ctx, "checkout", http.MethodPost, path, nil, &out); err != nil {
		return model.CheckOutResult{}, err
	}
	return out, nil
}

func (c *Client) Finalize(ctx context.Context, eventID int) (model.FinalizeResult, error) {
	var out model.FinalizeResult
	path := fmt.Sprintf("/events/%d/finalize", eventID)
	if err := c.do(ctx, "finalize", http.MethodPost, path, nil, &out); err != nil {
		return model.FinalizeResult{}, err
	}
	return out, nil
}

func (c *Client) FinalizedAttendance(ctx context.Context, eventID int) (model.FinalizedAttendance, error) {
	var out model.FinalizedAttendance
	path := fmt.Sprintf("/events/%d/attendance", eventID)
	if err := c.do(ctx, "attendance", http.MethodGet, path, nil, &out); err != nil {
		return model.FinalizedAttendance{}, err
	}
	return out, nil
}

func (c *Client) ListStudents(ctx context.Context) ([]model.Student, error) {
	var out []model.Student
	if err := c.do(ctx, "list_students", http.MethodGet, "/students", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AttendanceHistory(ctx context.Context, studentID int) ([]model.AttendanceRecord, error) {
	var out []model.AttendanceRecord
	path := fmt.Sprintf("/attendance/%d", studentID)
	if err := c.do(ctx, "history", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do performs one exchange. Transport failures and undecodable success
// bodies are KindNetwork; error statuses are KindRejected with the server's
// reason. out may be nil when the body is not needed.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		appLog.Error("backend request failed", err, "op", op, "path", path, "request_id", reqID)
		return apperr.Network(op, err)
	}
	defer resp.Body.Close()

	appLog.Debug("backend response",
		"op", op,
		"path", path,
		"status", resp.StatusCode,
		"elapsed", time.Since(started).Round(time.Millisecond),
		"request_id", reqID,
	)

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		reason := rejectionReason(raw, resp.Status)
		appLog.Warn("backend rejected request", "op", op, "path", path, "status", resp.StatusCode, "reason", reason, "request_id", reqID)
		return apperr.Rejected(op, resp.StatusCode, reason)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty response body")
		}
		return apperr.Network(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// rejectionReason extracts {"detail": ...} from an error body. FastAPI-style
// validation failures carry a list in detail; those are returned as raw JSON.
func rejectionReason(raw []byte, status string) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err == nil {
		if len(env.Detail) > 0 {
			var s string
			if json.Unmarshal(env.Detail, &s) == nil {
				return s
			}
			return string(env.Detail)
		}
		if env.Error != "" {
			return env.Error
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return status
}
