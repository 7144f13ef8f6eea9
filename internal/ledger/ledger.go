// Package ledger tracks caregiver-assigned tasks and free-text notes. It is
// an independent store feeding the dashboard read model; it does not depend
// on the intelligence pipeline.
package ledger

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luminacare/twinpulse/internal/errs"
	"github.com/luminacare/twinpulse/pkg/clock"
)

// TaskStatus is monotone: Open→Done, no reopen. Reopening, if ever needed,
// creates a new task.
type TaskStatus string

const (
	TaskOpen TaskStatus = "Open"
	TaskDone TaskStatus = "Done"
)

// Task is a caregiver work item.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Owner       string     `json:"owner"`
	Due         time.Time  `json:"due"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Note is an append-only caregiver note, never edited or deleted.
type Note struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Ledger owns tasks and notes for one patient. Mutations serialize on the
// ledger lock and commit atomically.
type Ledger struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	order  []string // task ids in creation order
	notes  []Note
	clk    clock.Clock
	logger *zap.Logger
}

// New creates an empty ledger.
func New(clk clock.Clock, logger *zap.Logger) *Ledger {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		tasks:  make(map[string]*Task),
		clk:    clk,
		logger: logger,
	}
}

// CreateTask records a new open task and returns it with its assigned id.
func (l *Ledger) CreateTask(title, owner, description string, due time.Time) (Task, error) {
	if strings.TrimSpace(title) == "" {
		return Task{}, errs.Validation("task title is required", nil)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t := &Task{
		ID:          uuid.New().String(),
		Title:       title,
		Owner:       owner,
		Due:         due,
		Description: description,
		Status:      TaskOpen,
		CreatedAt:   l.clk.Now(),
	}
	l.tasks[t.ID] = t
	l.order = append(l.order, t.ID)
	l.logger.Info("task created", zap.String("task_id", t.ID), zap.String("owner", owner))
	return *t, nil
}

// CompleteTask transitions a task Open→Done. Completing a nonexistent task
// fails with a not-found error; completing an already-Done task fails with
// an invalid-state error, so caregiver double-submissions surface instead of
// being silently ignored.
func (l *Ledger) CompleteTask(id string) (Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tasks[id]
	if !ok {
		return Task{}, errs.NotFound("task", id)
	}
	if t.Status == TaskDone {
		return Task{}, errs.InvalidState("task already done: " + id)
	}
	now := l.clk.Now()
	t.Status = TaskDone
	t.CompletedAt = &now
	l.logger.Info("task completed", zap.String("task_id", id))
	return *t, nil
}

// Tasks returns all tasks in creation order.
func (l *Ledger) Tasks() []Task {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Task, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.tasks[id])
	}
	return out
}

// AddNote appends a note. The only validation is non-empty text.
func (l *Ledger) AddNote(author, role, text string) (Note, error) {
	if strings.TrimSpace(text) == "" {
		return Note{}, errs.Validation("note text is required", nil)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n := Note{
		ID:        uuid.New().String(),
		Author:    author,
		Role:      role,
		Text:      text,
		Timestamp: l.clk.Now(),
	}
	l.notes = append(l.notes, n)
	return n, nil
}

// Notes returns all notes in append order.
func (l *Ledger) Notes() []Note {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Note(nil), l.notes...)
}
