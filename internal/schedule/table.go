package schedule

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type binding struct {
	jobID string
	spec  string
	sched cron.Schedule
	next  time.Time
}

// Table holds the set of active job-id to cron-spec bindings.
// It is the single owner of that set; all mutation goes through it
// under one lock, so registration is safe against concurrent ticks.
type Table struct {
	mu       sync.Mutex
	bindings map[string]*binding
}

func NewTable() *Table {
	return &Table{bindings: make(map[string]*binding)}
}

// Put registers a binding, replacing any existing binding for the same
// job id so that at most one is ever live. Returns ErrInvalidSpec when
// the cron expression does not parse.
func (t *Table) Put(jobID, spec string, now time.Time) error {
	sched, err := Parse(spec)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.bindings[jobID] = &binding{jobID: jobID, spec: spec, sched: sched, next: sched.Next(now)}
	t.mu.Unlock()
	return nil
}

// Remove drops a binding. Removing an absent job id is not an error.
func (t *Table) Remove(jobID string) {
	t.mu.Lock()
	delete(t.bindings, jobID)
	t.mu.Unlock()
}

// Active returns the registered job ids, sorted.
func (t *Table) Active() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.bindings))
	for id := range t.bindings {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bindings)
}

// Spec returns the cron expression for a job id, if registered.
func (t *Table) Spec(jobID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bindings[jobID]
	if !ok {
		return "", false
	}
	return b.spec, true
}

// Due returns the job ids whose next fire time has passed. It does not
// advance them: the dispatcher calls Advance once it commits to firing
// (or dropping) a due binding, so a tick that cannot take work leaves
// the binding due for the next tick.
func (t *Table) Due(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var due []string
	for id, b := range t.bindings {
		if !b.next.After(now) {
			due = append(due, id)
		}
	}
	sort.Strings(due)
	return due
}

// Advance moves a binding's next fire time past now. A missed tick is
// not back-filled: the next fire is computed from now, not from the
// originally scheduled time.
func (t *Table) Advance(jobID string, now time.Time) {
	t.mu.Lock()
	if b, ok := t.bindings[jobID]; ok {
		b.next = b.sched.Next(now)
	}
	t.mu.Unlock()
}

// Next reports the next fire time for a job id, if registered.
func (t *Table) Next(jobID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bindings[jobID]
	if !ok {
		return time.Time{}, false
	}
	return b.next, true
}
