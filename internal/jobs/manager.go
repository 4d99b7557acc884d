package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/storage"
)

// debug hook, set from main; should print only when -d enabled
var debugf func(format string, args ...interface{})

// SetDebug installs a debug logger used when -d flag is on.
func SetDebug(fn func(format string, args ...interface{})) { debugf = fn }

func dbg(format string, args ...interface{}) {
	if debugf != nil {
		debugf("jobs: "+format, args...)
	}
}

// Resolver turns job paths into items. *registry.Registry satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, p string) (storage.Item, error)
	ResolveFolder(ctx context.Context, p string) (storage.Folder, error)
}

// Manager coordinates queueing and background processing (single worker).
type Manager struct {
	resolver    Resolver
	mu          sync.Mutex
	cond        *sync.Cond
	queue       []*Job
	closed      bool
	nextID      int64
	subscribers []func()
	current     *Job
	history     []*Job
	historyMax  int
}

// NewManager constructs and starts a Manager.
func NewManager(r Resolver) *Manager {
	m := &Manager{resolver: r, historyMax: 100}
	m.cond = sync.NewCond(&m.mu)
	go m.worker()
	dbg("manager created; worker started")
	return m
}

// Subscribe registers a callback called on state changes.
func (m *Manager) Subscribe(cb func()) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, cb)
	n := len(m.subscribers)
	m.mu.Unlock()
	dbg("subscriber added (total=%d)", n)
}

func (m *Manager) notify() {
	// call without holding the lock to avoid re-entrancy
	m.mu.Lock()
	subs := append([]func(){}, m.subscribers...)
	m.mu.Unlock()
	for _, cb := range subs {
		cb()
	}
}

// EnqueueCopy enqueues a copy job.
func (m *Manager) EnqueueCopy(sources []string, destDir string, opt storage.CollisionOption) *Job {
	return m.enqueue(&Job{Type: TypeCopy, Sources: sources, DestDir: destDir, Collision: opt})
}

// EnqueueMove enqueues a move job.
func (m *Manager) EnqueueMove(sources []string, destDir string, opt storage.CollisionOption) *Job {
	return m.enqueue(&Job{Type: TypeMove, Sources: sources, DestDir: destDir, Collision: opt})
}

// EnqueueDelete enqueues a delete job.
func (m *Manager) EnqueueDelete(sources []string, opt storage.DeleteOption) *Job {
	return m.enqueue(&Job{Type: TypeDelete, Sources: sources, DeleteOpt: opt})
}

func (m *Manager) enqueue(j *Job) *Job {
	j.ID = atomic.AddInt64(&m.nextID, 1)
	j.Sources = append([]string(nil), j.Sources...)
	j.Status = StatusPending
	j.EnqueuedAt = time.Now()
	j.TotalFiles = len(j.Sources)
	j.ctx, j.cancel = context.WithCancel(context.Background())
	j.done = make(chan struct{})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		j.finish(StatusCanceled, "manager closed")
		return j
	}
	m.queue = append(m.queue, j)
	m.mu.Unlock()
	dbg("enqueue id=%d type=%s n=%d -> %s", j.ID, string(j.Type), len(j.Sources), j.DestDir)
	m.notify()
	m.cond.Signal()
	return j
}

// Cancel cancels a job by ID.
func (m *Manager) Cancel(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	// pending in queue
	for i, j := range m.queue {
		if j.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			j.finish(StatusCanceled, "")
			dbg("cancel pending id=%d", id)
			m.addHistoryLocked(j)
			go m.notify()
			return true
		}
	}
	// currently running
	if m.current != nil && m.current.ID == id {
		m.current.Cancel()
		dbg("cancel running id=%d", id)
		go m.notify()
		return true
	}
	return false
}

// Wait blocks until the job finishes or ctx is done and returns its snapshot.
func (m *Manager) Wait(ctx context.Context, j *Job) (JobSnapshot, error) {
	select {
	case <-j.done:
		return j.Snapshot(), nil
	case <-ctx.Done():
		return j.Snapshot(), ctx.Err()
	}
}

// List returns snapshots of pending + possibly running job (head is running when active).
func (m *Manager) List() []JobSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JobSnapshot, 0, len(m.queue)+1+len(m.history))
	if m.current != nil {
		out = append(out, m.current.Snapshot())
	}
	for _, j := range m.queue {
		out = append(out, j.Snapshot())
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		out = append(out, m.history[i].Snapshot())
	}
	return out
}

// Close cancels every pending and running job and stops the worker.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	pending := m.queue
	m.queue = nil
	if m.current != nil {
		m.current.Cancel()
	}
	for _, j := range pending {
		j.finish(StatusCanceled, "manager closed")
		m.addHistoryLocked(j)
	}
	m.mu.Unlock()
	m.cond.Broadcast()
	dbg("manager closed; %d pending jobs canceled", len(pending))
}

func (m *Manager) worker() {
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		// pop head
		j := m.queue[0]
		m.queue = m.queue[1:]
		m.current = j
		dbg("worker popped id=%d type=%s (remaining=%d)", j.ID, string(j.Type), len(m.queue))
		m.mu.Unlock()

		j.mu.Lock()
		j.Status = StatusRunning
		j.StartedAt = time.Now()
		j.mu.Unlock()
		m.notify()

		err := m.runJob(j)
		// finish under m.mu so a finished job is never still reported as current
		m.mu.Lock()
		switch {
		case errors.Is(err, errCanceled):
			j.finish(StatusCanceled, "")
			dbg("job canceled id=%d", j.ID)
		case err != nil:
			j.finish(StatusFailed, err.Error())
			dbg("job failed id=%d err=%v", j.ID, err)
		default:
			j.finish(StatusCompleted, "")
			dbg("job completed id=%d", j.ID)
		}
		m.current = nil
		m.addHistoryLocked(j)
		m.mu.Unlock()
		m.notify()
	}
}

// addHistoryLocked appends a finished job to history and trims oldest; caller must hold m.mu
func (m *Manager) addHistoryLocked(j *Job) {
	m.history = append(m.history, j)
	if m.historyMax > 0 && len(m.history) > m.historyMax {
		drop := len(m.history) - m.historyMax
		m.history = append([]*Job{}, m.history[drop:]...)
	}
}

// runJob processes every source; a failing source is recorded and the next one still runs.
func (m *Manager) runJob(j *Job) error {
	dbg("runJob id=%d total=%d dest=%s", j.ID, len(j.Sources), j.DestDir)
	var dest storage.Folder
	if j.Type != TypeDelete {
		var err error
		if dest, err = m.resolver.ResolveFolder(j.ctx, j.DestDir); err != nil {
			j.addFailure("", j.DestDir, err)
			return err
		}
	}
	for i, src := range j.Sources {
		if canceled(j) {
			return errCanceled
		}
		j.mu.Lock()
		j.CurrentSource = src
		j.Message = ""
		j.mu.Unlock()
		dbg("job %d: process %s", j.ID, src)
		m.notify()

		if err := m.process(j, src, dest); err != nil {
			if canceled(j) && apperrors.IsCanceled(err) {
				return errCanceled
			}
			j.addFailure(src, src, err)
		}
		j.mu.Lock()
		j.DoneFiles = i + 1
		j.mu.Unlock()
		m.notify()
	}
	if n := len(j.Snapshot().Failures); n > 0 {
		return fmt.Errorf("%d of %d sources failed", n, len(j.Sources))
	}
	return nil
}

func (m *Manager) process(j *Job, src string, dest storage.Folder) error {
	item, err := m.resolver.Resolve(j.ctx, src)
	if err != nil {
		return err
	}
	switch j.Type {
	case TypeCopy:
		_, err = storage.CopyItem(j.ctx, item, dest, j.Collision)
	case TypeMove:
		_, err = storage.MoveItem(j.ctx, item, dest, j.Collision)
	case TypeDelete:
		err = item.Delete(j.ctx, j.DeleteOpt)
	default:
		err = fmt.Errorf("unknown job type %q", j.Type)
	}
	return err
}

var errCanceled = errors.New("job canceled")

func canceled(j *Job) bool {
	select {
	case <-j.ctx.Done():
		return true
	default:
		return false
	}
}

// addFailure records err; a bulk error contributes one failure per child path.
func (j *Job) addFailure(top, p string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var bulk *storage.BulkError
	if errors.As(err, &bulk) {
		for _, f := range bulk.Failures {
			j.Failures = append(j.Failures, JobFailure{TopSource: top, Path: f.Path, Error: f.Err.Error()})
		}
		return
	}
	var ae *apperrors.AppError
	if errors.As(err, &ae) && ae.Path != "" {
		p = ae.Path
	}
	j.Failures = append(j.Failures, JobFailure{TopSource: top, Path: p, Error: err.Error()})
}

func (j *Job) finish(s Status, msg string) {
	j.mu.Lock()
	j.Status = s
	if s == StatusFailed {
		j.Error = msg
	} else {
		j.Message = msg
	}
	j.CompletedAt = time.Now()
	j.mu.Unlock()
	j.cancel()
	close(j.done)
}

// Cancel cancels the job's context; the worker notices between items.
func (j *Job) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}
