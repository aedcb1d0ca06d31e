package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
)

func TestStatusFromTaskInfo(t *testing.T) {
	tests := []struct {
		state    asynq.TaskState
		want     JobState
		progress int
	}{
		{asynq.TaskStatePending, JobWaiting, 0},
		{asynq.TaskStateScheduled, JobWaiting, 0},
		{asynq.TaskStateRetry, JobWaiting, 0},
		{asynq.TaskStateActive, JobActive, 50},
		{asynq.TaskStateCompleted, JobCompleted, 100},
		{asynq.TaskStateArchived, JobFailed, 0},
	}

	for _, tt := range tests {
		got := statusFromTaskInfo(&asynq.TaskInfo{ID: "job-1", State: tt.state, LastErr: "boom"})
		if got.State != tt.want {
			t.Fatalf("state %v: got %s, want %s", tt.state, got.State, tt.want)
		}
		if got.Progress != tt.progress {
			t.Fatalf("state %v: got progress %d, want %d", tt.state, got.Progress, tt.progress)
		}
	}
}

func TestClassifyEnqueueError(t *testing.T) {
	if !errors.Is(classifyEnqueueError(asynq.ErrTaskIDConflict), ErrDuplicateJob) {
		t.Fatal("task id conflict should classify as duplicate")
	}
	if !errors.Is(classifyEnqueueError(asynq.ErrDuplicateTask), ErrDuplicateJob) {
		t.Fatal("duplicate task should classify as duplicate")
	}
	if !errors.Is(classifyEnqueueError(context.DeadlineExceeded), ErrUnavailable) {
		t.Fatal("deadline exceeded should classify as unavailable")
	}

	fatal := classifyEnqueueError(errors.New("payload too large"))
	if errors.Is(fatal, ErrDuplicateJob) || errors.Is(fatal, ErrUnavailable) || errors.Is(fatal, ErrQueueFull) {
		t.Fatalf("unexpected classification for fatal error: %v", fatal)
	}
}
