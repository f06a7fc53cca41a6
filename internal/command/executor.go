// Package command issues the state-changing attendance requests (check in,
// check out, finalize) and classifies their outcomes.
package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"attendboard/internal/apperr"
	appLog "attendboard/internal/log"
	"attendboard/internal/metrics"
	"attendboard/internal/model"
)

// Backend is the subset of the API the executor needs.
type Backend interface {
	CheckIn(ctx context.Context, eventID, studentID int) error
	CheckOut(ctx context.Context, eventID, studentID int) (model.CheckOutResult, error)
	Finalize(ctx context.Context, eventID int) (model.FinalizeResult, error)
}

// Executor validates input and sends one request per command. It never
// retries; the server decides what a duplicate check-in or check-out means.
type Executor struct {
	backend Backend
	metrics *metrics.Metrics
}

func NewExecutor(b Backend, m *metrics.Metrics) *Executor {
	return &Executor{backend: b, metrics: m}
}

// CheckInResult confirms a check-in.
type CheckInResult struct {
	EventID   int
	StudentID int
}

// CheckOutResult confirms a check-out with the server's elapsed time.
type CheckOutResult struct {
	EventID         int
	StudentID       int
	DurationMinutes string
}

// FinalizeResult confirms a finalize.
type FinalizeResult struct {
	EventID        int
	TotalAttendees int
}

func (r CheckInResult) Message() string {
	return fmt.Sprintf("Student %d checked in successfully.", r.StudentID)
}

// Message shows the duration verbatim; servers that omit it get a plain
// confirmation.
func (r CheckOutResult) Message() string {
	if r.DurationMinutes == "" {
		return fmt.Sprintf("Student %d checked out successfully.", r.StudentID)
	}
	return fmt.Sprintf("Student %d checked out. Duration: %s minutes", r.StudentID, r.DurationMinutes)
}

func (r FinalizeResult) Message() string {
	return fmt.Sprintf("Event finalized. Total attendees: %d", r.TotalAttendees)
}

// ParseStudentID accepts a positive base-10 integer, ignoring surrounding
// whitespace.
func ParseStudentID(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, apperr.Validation("student_id", "student id is required")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, apperr.Validation("student_id", fmt.Sprintf("student id %q must be a positive integer", raw))
		}
	}
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("student_id", fmt.Sprintf("student id %q must be a positive integer", raw))
	}
	return id, nil
}

func (e *Executor) CheckIn(ctx context.Context, eventID int, rawStudentID string) (CheckInResult, error) {
	studentID, err := ParseStudentID(rawStudentID)
	if err != nil {
		e.record("checkin", err)
		return CheckInResult{}, err
	}
	err = e.backend.CheckIn(ctx, eventID, studentID)
	e.record("checkin", err)
	if err != nil {
		appLog.Warn("check-in failed", "event_id", eventID, "student_id", studentID, "err", err)
		return CheckInResult{}, err
	}
	appLog.Info("student checked in", "event_id", eventID, "student_id", studentID)
	return CheckInResult{EventID: eventID, StudentID: studentID}, nil
}

func (e *Executor) CheckOut(ctx context.Context, eventID int, rawStudentID string) (CheckOutResult, error) {
	studentID, err := ParseStudentID(rawStudentID)
	if err != nil {
		e.record("checkout", err)
		return CheckOutResult{}, err
	}
	res, err := e.backend.CheckOut(ctx, eventID, studentID)
	e.record("checkout", err)
	if err != nil {
		appLog.Warn("check-out failed", "event_id", eventID, "student_id", studentID, "err", err)
		return CheckOutResult{}, err
	}
	appLog.Info("student checked out", "event_id", eventID, "student_id", studentID, "duration_minutes", res.DurationMinutes)
	return CheckOutResult{
		EventID:         eventID,
		StudentID:       studentID,
		DurationMinutes: res.DurationMinutes.String(),
	}, nil
}

func (e *Executor) Finalize(ctx context.Context, eventID int) (FinalizeResult, error) {
	res, err := e.backend.Finalize(ctx, eventID)
	e.record("finalize", err)
	if err != nil {
		appLog.Warn("finalize failed", "event_id", eventID, "err", err)
		return FinalizeResult{}, err
	}
	appLog.Info("event finalized", "event_id", eventID, "total_attendees", res.TotalAttendees)
	return FinalizeResult{EventID: eventID, TotalAttendees: res.TotalAttendees}, nil
}

func (e *Executor) record(op string, err error) {
	outcome := "ok"
	if err != nil {
		if k := apperr.KindOf(err); k != 0 {
			outcome = k.String()
		} else {
			outcome = "error"
		}
	}
	e.metrics.Command(op, outcome)
}
