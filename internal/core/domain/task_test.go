package domain

import (
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID()
	id2 := GenerateID()

	if id1 == "" {
		t.Error("expected non-empty ID")
	}
	if id2 == "" {
		t.Error("expected non-empty ID")
	}
	if id1 == id2 {
		t.Error("expected unique IDs")
	}
	// Base64 URL encoding of 16 bytes = 22 chars
	if len(id1) != 22 {
		t.Errorf("expected ID length 22, got %d", len(id1))
	}
}

func TestNewTask(t *testing.T) {
	payload := map[string]string{"key": "value"}

	task := NewTask(TaskTypePurgeSyncLogs, payload)

	if task.ID == "" {
		t.Error("expected non-empty ID")
	}
	if task.Type != TaskTypePurgeSyncLogs {
		t.Errorf("expected type %s, got %s", TaskTypePurgeSyncLogs, task.Type)
	}
	if task.Payload["key"] != "value" {
		t.Error("expected payload to be set")
	}
	if task.Status != TaskStatusPending {
		t.Errorf("expected status %s, got %s", TaskStatusPending, task.Status)
	}
	if task.Priority != 0 {
		t.Errorf("expected priority 0, got %d", task.Priority)
	}
	if task.Attempts != 0 {
		t.Errorf("expected attempts 0, got %d", task.Attempts)
	}
	if task.MaxAttempts != 3 {
		t.Errorf("expected max attempts 3, got %d", task.MaxAttempts)
	}
	if task.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if task.ScheduledFor.IsZero() {
		t.Error("expected ScheduledFor to be set")
	}
}

func TestTaskConstructors(t *testing.T) {
	logs := NewPurgeSyncLogsTask()
	if logs.Type != TaskTypePurgeSyncLogs {
		t.Errorf("expected type %s, got %s", TaskTypePurgeSyncLogs, logs.Type)
	}

	tombs := NewPurgeTombstonesTask()
	if tombs.Type != TaskTypePurgeTombstones {
		t.Errorf("expected type %s, got %s", TaskTypePurgeTombstones, tombs.Type)
	}
}

func TestTaskCanRetry(t *testing.T) {
	task := NewPurgeSyncLogsTask()

	if !task.CanRetry() {
		t.Error("expected fresh task to be retryable")
	}

	task.Attempts = task.MaxAttempts
	if task.CanRetry() {
		t.Error("expected exhausted task not to be retryable")
	}
}

func TestTaskIsReady(t *testing.T) {
	task := NewPurgeSyncLogsTask()
	task.ScheduledFor = time.Now().Add(-1 * time.Second)

	if !task.IsReady() {
		t.Error("expected past-scheduled pending task to be ready")
	}

	task.ScheduledFor = time.Now().Add(1 * time.Hour)
	if task.IsReady() {
		t.Error("expected future-scheduled task not to be ready")
	}

	task.ScheduledFor = time.Now().Add(-1 * time.Second)
	task.Status = TaskStatusProcessing
	if task.IsReady() {
		t.Error("expected processing task not to be ready")
	}
}

func TestTaskLifecycle(t *testing.T) {
	task := NewPurgeTombstonesTask()

	task.MarkProcessing()
	if task.Status != TaskStatusProcessing {
		t.Errorf("expected status processing, got %s", task.Status)
	}
	if task.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", task.Attempts)
	}
	if task.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}

	task.MarkCompleted()
	if task.Status != TaskStatusCompleted {
		t.Errorf("expected status completed, got %s", task.Status)
	}
	if task.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if task.Error != "" {
		t.Errorf("expected empty error, got %q", task.Error)
	}
}

func TestTaskMarkFailed(t *testing.T) {
	task := NewPurgeSyncLogsTask()
	task.MarkFailed("boom")

	if task.Status != TaskStatusFailed {
		t.Errorf("expected status failed, got %s", task.Status)
	}
	if task.Error != "boom" {
		t.Errorf("expected error 'boom', got %q", task.Error)
	}
}

func TestTaskRetryBackoff(t *testing.T) {
	task := NewPurgeSyncLogsTask()
	task.MarkProcessing()

	before := time.Now()
	task.Retry("transient failure")

	if task.Status != TaskStatusPending {
		t.Errorf("expected status pending, got %s", task.Status)
	}
	if task.Error != "transient failure" {
		t.Errorf("expected error to be recorded, got %q", task.Error)
	}
	if !task.ScheduledFor.After(before) {
		t.Error("expected retry to be scheduled in the future")
	}
}

func TestScheduledTaskIsDue(t *testing.T) {
	st := NewScheduledTask("purge-sync-logs", "Purge expired sync logs", TaskTypePurgeSyncLogs, time.Hour)

	if st.IsDue() {
		t.Error("expected fresh schedule not to be due")
	}

	st.NextRun = time.Now().Add(-1 * time.Minute)
	if !st.IsDue() {
		t.Error("expected past-due schedule to be due")
	}

	st.Enabled = false
	if st.IsDue() {
		t.Error("expected disabled schedule not to be due")
	}
}

func TestScheduledTaskUpdateNextRun(t *testing.T) {
	st := NewScheduledTask("purge-tombstones", "Purge expired tombstones", TaskTypePurgeTombstones, time.Hour)
	st.NextRun = time.Now().Add(-1 * time.Minute)

	st.UpdateNextRun()

	if st.LastRun == nil {
		t.Fatal("expected LastRun to be set")
	}
	if !st.NextRun.After(time.Now()) {
		t.Error("expected NextRun to move into the future")
	}
}

func TestDefaultScheduledTasks(t *testing.T) {
	tasks := DefaultScheduledTasks()

	if len(tasks) != 2 {
		t.Fatalf("expected 2 default scheduled tasks, got %d", len(tasks))
	}

	types := map[TaskType]bool{}
	for _, st := range tasks {
		types[st.Type] = true
		if !st.Enabled {
			t.Errorf("expected default task %s to be enabled", st.ID)
		}
	}
	if !types[TaskTypePurgeSyncLogs] || !types[TaskTypePurgeTombstones] {
		t.Error("expected both purge task types to be scheduled")
	}
}
