// Package scheduler runs periodic maintenance jobs such as the symbol
// reference reload on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/logger"
)

// TaskType represents the type of scheduled task
type TaskType string

const (
	TaskTypeSymbolReload TaskType = "symbol_reload"
)

// TaskStatus represents the status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task represents a scheduled task
type Task struct {
	Type        TaskType   `json:"type"`
	Schedule    string     `json:"schedule"`
	LastRunTime time.Time  `json:"last_run_time,omitempty"`
	NextRunTime time.Time  `json:"next_run_time,omitempty"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	Runs        int        `json:"runs"`

	entryID cron.EntryID
}

// TaskHandler defines the interface for task handlers
type TaskHandler interface {
	Handle(ctx context.Context) error
}

// HandlerFunc adapts a plain function to TaskHandler.
type HandlerFunc func(ctx context.Context) error

func (f HandlerFunc) Handle(ctx context.Context) error { return f(ctx) }

// Scheduler manages task scheduling
type Scheduler struct {
	cron     *cron.Cron
	tasks    map[TaskType]*Task
	handlers map[TaskType]TaskHandler
	timeout  time.Duration
	log      logger.Logger
	mu       sync.RWMutex
}

// NewScheduler creates a scheduler whose specs carry a leading seconds field.
// Each run is bounded by timeout; zero means one minute.
func NewScheduler(timeout time.Duration, log logger.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	log = logger.Component(log, "scheduler")
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{
		cron:     c,
		tasks:    make(map[TaskType]*Task),
		handlers: make(map[TaskType]TaskHandler),
		timeout:  timeout,
		log:      log,
	}
}

// RegisterHandler registers a handler for a task type
func (s *Scheduler) RegisterHandler(taskType TaskType, handler TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskType] = handler
}

// AddTask schedules taskType. Re-adding a type replaces its schedule.
func (s *Scheduler) AddTask(taskType TaskType, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handler, exists := s.handlers[taskType]
	if !exists {
		return fmt.Errorf("no handler registered for task type: %s", taskType)
	}

	task := &Task{
		Type:     taskType,
		Schedule: schedule,
		Status:   TaskStatusPending,
	}

	// register with cron
	id, err := s.cron.AddFunc(schedule, func() {
		s.runTask(context.Background(), task, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job %q: %w", schedule, err)
	}
	task.entryID = id

	if old, ok := s.tasks[taskType]; ok {
		s.cron.Remove(old.entryID)
	}
	s.tasks[taskType] = task

	s.log.Info("Task scheduled", "task", taskType, "schedule", schedule)
	return nil
}

// RunNow executes taskType synchronously outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, taskType TaskType) error {
	s.mu.RLock()
	handler, ok := s.handlers[taskType]
	task := s.tasks[taskType]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for task type: %s", taskType)
	}
	if task == nil {
		task = &Task{Type: taskType, Status: TaskStatusPending}
		s.mu.Lock()
		s.tasks[taskType] = task
		s.mu.Unlock()
	}
	return s.runTask(ctx, task, handler)
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// runTask executes a task
func (s *Scheduler) runTask(ctx context.Context, task *Task, handler TaskHandler) error {
	s.mu.Lock()
	task.Status = TaskStatusRunning
	task.LastRunTime = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := handler.Handle(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	task.Runs++
	if err != nil {
		task.Status = TaskStatusFailed
		task.Error = err.Error()
		s.log.Error("Task failed", "task", task.Type, "duration", time.Since(start), "error", err)
	} else {
		task.Status = TaskStatusCompleted
		task.Error = ""
		s.log.Info("Task completed", "task", task.Type, "duration", time.Since(start))
	}
	return err
}

// GetTask returns a snapshot of the task of the given type.
func (s *Scheduler) GetTask(taskType TaskType) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskType]
	if !exists {
		return Task{}, apperrors.NotFound("task not found").WithContext("type", string(taskType))
	}
	return s.snapshot(task), nil
}

// ListTasks lists all tasks
func (s *Scheduler) ListTasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, s.snapshot(task))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Type < tasks[j].Type })
	return tasks
}

func (s *Scheduler) snapshot(task *Task) Task {
	t := *task
	if task.entryID != 0 {
		t.NextRunTime = s.cron.Entry(task.entryID).Next
	}
	return t
}

// cronLogger routes cron's own messages to the structured logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
