package task

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// TimedOutMessage is recorded as the error of a task finalized by its deadline.
const TimedOutMessage = "task timed out"

// Terminal reports whether s is Complete or Error.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

type Task struct {
	ID         string        `json:"id"`
	Input      string        `json:"input"`
	Delay      time.Duration `json:"delay"`
	Status     Status        `json:"status"`
	Result     string        `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	DeadlineAt time.Time     `json:"deadline_at"`
}

// New builds a Pending task due timeout after now. A non-positive timeout
// gives a deadline that has already been reached.
func New(input string, delay, timeout time.Duration, now time.Time) *Task {
	return &Task{
		ID:         uuid.New().String(),
		Input:      input,
		Delay:      delay,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		DeadlineAt: now.Add(timeout),
	}
}

func (t *Task) Clone() *Task {
	c := *t
	return &c
}

// Expired reports whether the deadline is set and has passed at now.
func (t *Task) Expired(now time.Time) bool {
	return !t.DeadlineAt.IsZero() && now.After(t.DeadlineAt)
}

func (t *Task) MarkProcessing(now time.Time) {
	t.Status = StatusProcessing
	t.UpdatedAt = now
}

func (t *Task) MarkComplete(result string, now time.Time) {
	t.Status = StatusComplete
	t.Result = result
	t.Error = ""
	t.UpdatedAt = now
}

func (t *Task) MarkFailed(msg string, now time.Time) {
	t.Status = StatusError
	t.Result = ""
	t.Error = msg
	t.UpdatedAt = now
}

func (t *Task) MarkTimedOut(now time.Time) {
	t.MarkFailed(TimedOutMessage, now)
	t.TimedOut = true
}

// Snapshot is the caller-visible view of a task. Result is set exactly
// when the task is Complete and Error exactly when it is in Error, even if
// the string is empty.
type Snapshot struct {
	Status Status  `json:"status"`
	Result *string `json:"result,omitempty"`
	Error  *string `json:"error,omitempty"`
}

func (t *Task) Snapshot() Snapshot {
	s := Snapshot{Status: t.Status}
	switch t.Status {
	case StatusComplete:
		result := t.Result
		s.Result = &result
	case StatusError:
		msg := t.Error
		s.Error = &msg
	}
	return s
}
