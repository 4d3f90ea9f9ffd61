package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrManagerClosed = errors.New("task manager is shutting down")
	ErrTooManyTasks  = errors.New("too many active tasks")
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskPanicked  = errors.New("task panicked")
)

// Task представляет асинхронную задачу
type Task struct {
	ID        uuid.UUID
	OwnerID   string
	Status    TaskStatus
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
	Cancel    context.CancelFunc
}

// TaskStatus представляет статус задачи
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) finished() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// TaskFunc - тело задачи. Паника внутри перехватывается и превращается в ErrTaskPanicked.
type TaskFunc func(ctx context.Context) error

// Config содержит конфигурацию для TaskManager
type Config struct {
	MaxTasks int
}

// TaskManager запускает задачи в отдельных горутинах и ждет их при остановке.
type TaskManager struct {
	logger   *zap.Logger
	maxTasks int

	mu     sync.RWMutex
	tasks  map[uuid.UUID]*Task
	closed bool

	wg sync.WaitGroup
}

// New создает новый экземпляр TaskManager
func New(cfg Config, logger *zap.Logger) *TaskManager {
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskManager{
		logger:   logger,
		maxTasks: maxTasks,
		tasks:    make(map[uuid.UUID]*Task),
	}
}

// Submit создает и запускает новую задачу. Задача не наследует отмену ctx:
// HTTP запрос, запустивший генерацию, завершается раньше самой генерации.
func (tm *TaskManager) Submit(ctx context.Context, ownerID string, taskFunc TaskFunc) (uuid.UUID, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closed {
		return uuid.UUID{}, ErrManagerClosed
	}

	active := 0
	for _, task := range tm.tasks {
		if !task.Status.finished() {
			active++
		}
	}
	if active >= tm.maxTasks {
		return uuid.UUID{}, fmt.Errorf("%w: limit %d", ErrTooManyTasks, tm.maxTasks)
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	now := time.Now()
	task := &Task{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Status:    TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Cancel:    cancel,
	}
	tm.tasks[task.ID] = task

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		defer cancel()

		tm.runTask(taskCtx, task, taskFunc)
	}()

	return task.ID, nil
}

// runTask выполняет задачу и обновляет ее статус
func (tm *TaskManager) runTask(ctx context.Context, task *Task, taskFunc TaskFunc) {
	log := tm.logger.With(zap.String("task_id", task.ID.String()), zap.String("owner_id", task.OwnerID))
	tm.updateTaskStatus(task, TaskStatusRunning, "")

	err := tm.call(ctx, taskFunc)

	switch {
	case errors.Is(err, context.Canceled):
		log.Info("Task cancelled")
		tm.updateTaskStatus(task, TaskStatusCancelled, err.Error())
	case err != nil:
		log.Error("Task failed", zap.Error(err))
		tm.updateTaskStatus(task, TaskStatusFailed, err.Error())
	default:
		log.Debug("Task completed")
		tm.updateTaskStatus(task, TaskStatusCompleted, "")
	}
}

func (tm *TaskManager) call(ctx context.Context, taskFunc TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			tm.logger.Error("Recovered panic in task",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return taskFunc(ctx)
}

func (tm *TaskManager) updateTaskStatus(task *Task, status TaskStatus, message string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task.Status = status
	task.Message = message
	task.UpdatedAt = time.Now()
}

// GetTask возвращает копию задачи по ID
func (tm *TaskManager) GetTask(taskID uuid.UUID) (Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return *task, nil
}

// Active возвращает число незавершенных задач.
func (tm *TaskManager) Active() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	active := 0
	for _, task := range tm.tasks {
		if !task.Status.finished() {
			active++
		}
	}
	return active
}

// CancelTask отменяет контекст задачи. Статус выставит сама задача при возврате.
func (tm *TaskManager) CancelTask(taskID uuid.UUID) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status.finished() {
		return fmt.Errorf("cannot cancel task in status %s", task.Status)
	}
	task.Cancel()
	return nil
}

// CleanupTasks удаляет завершенные задачи, которые старше указанного времени
func (tm *TaskManager) CleanupTasks(age time.Duration) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, task := range tm.tasks {
		if task.Status.finished() && now.Sub(task.UpdatedAt) > age {
			delete(tm.tasks, id)
			removed++
		}
	}
	return removed
}

// RunCleanup периодически вызывает CleanupTasks до отмены ctx.
func (tm *TaskManager) RunCleanup(ctx context.Context, interval, age time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := tm.CleanupTasks(age); removed > 0 {
				tm.logger.Debug("Finished tasks cleaned up", zap.Int("removed", removed))
			}
		}
	}
}

// Shutdown запрещает новые задачи и ждет завершения текущих.
// По истечении ctx оставшиеся задачи отменяются.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.mu.Lock()
	tm.closed = true
	tm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		tm.mu.RLock()
		for _, task := range tm.tasks {
			if !task.Status.finished() {
				task.Cancel()
			}
		}
		tm.mu.RUnlock()
		return fmt.Errorf("timeout waiting for tasks to finish: %w", ctx.Err())
	}
}
