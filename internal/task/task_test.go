package task

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	now := time.Now()
	tsk := New("abc", time.Second, 30*time.Second, now)

	assert.NotEmpty(t, tsk.ID)
	assert.Equal(t, StatusPending, tsk.Status)
	assert.Equal(t, now.Add(30*time.Second), tsk.DeadlineAt)
	assert.Equal(t, now, tsk.UpdatedAt)

	other := New("abc", 0, 0, now)
	assert.NotEqual(t, tsk.ID, other.ID)
	assert.Equal(t, now, other.DeadlineAt)
	assert.True(t, other.Expired(now.Add(time.Millisecond)))

	past := New("abc", 0, -time.Second, now)
	assert.True(t, past.Expired(now))

	unbounded := &Task{Status: StatusPending}
	assert.False(t, unbounded.Expired(now.Add(time.Hour)))
}

func TestExpired(t *testing.T) {
	now := time.Now()
	tsk := New("x", 0, time.Second, now)

	assert.False(t, tsk.Expired(now))
	assert.False(t, tsk.Expired(now.Add(time.Second)))
	assert.True(t, tsk.Expired(now.Add(time.Second+time.Millisecond)))
}

func TestTransitions(t *testing.T) {
	now := time.Now()
	tsk := New("x", 0, time.Second, now)

	tsk.MarkProcessing(now.Add(1))
	assert.False(t, tsk.Status.Terminal())

	tsk.MarkComplete("y", now.Add(2))
	assert.True(t, tsk.Status.Terminal())
	snap := tsk.Snapshot()
	require.NotNil(t, snap.Result)
	assert.Equal(t, "y", *snap.Result)
	assert.Nil(t, snap.Error)

	tsk.MarkTimedOut(now.Add(3))
	assert.True(t, tsk.TimedOut)
	snap = tsk.Snapshot()
	require.NotNil(t, snap.Error)
	assert.Equal(t, TimedOutMessage, *snap.Error)
	assert.Nil(t, snap.Result)
	assert.Empty(t, tsk.Result)
}

func TestSnapshotHidesFieldsOfOtherStates(t *testing.T) {
	tsk := &Task{Status: StatusProcessing, Result: "stale", Error: "stale"}
	assert.Equal(t, Snapshot{Status: StatusProcessing}, tsk.Snapshot())
}

func TestSnapshotJSON(t *testing.T) {
	tests := []struct {
		name string
		task *Task
		want string
	}{
		{"empty result", &Task{Status: StatusComplete}, `{"status":"complete","result":""}`},
		{"result", &Task{Status: StatusComplete, Result: "cba"}, `{"status":"complete","result":"cba"}`},
		{"empty error", &Task{Status: StatusError}, `{"status":"error","error":""}`},
		{"pending", &Task{Status: StatusPending}, `{"status":"pending"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.task.Snapshot())
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestErrors(t *testing.T) {
	err := NotFound("abc")
	require.True(t, errors.Is(err, ErrTaskNotFound))
	assert.Contains(t, err.Error(), "abc")

	err = TimedOut("abc")
	require.True(t, errors.Is(err, ErrTaskTimedOut))
	assert.Contains(t, err.Error(), "timed out")
}
