package combinations

import (
	"sync"
	"time"
)

type RunSummary struct {
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Observer receives every publication of a ResultCollection, synchronously and
// in publication order.
type Observer interface {
	OnRunStarted(states []TaskState)
	OnTaskUpdated(state TaskState)
	OnRunFinished(summary RunSummary)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	RunStarted  func(states []TaskState)
	TaskUpdated func(state TaskState)
	RunFinished func(summary RunSummary)
}

func (o ObserverFuncs) OnRunStarted(states []TaskState) {
	if o.RunStarted != nil {
		o.RunStarted(states)
	}
}

func (o ObserverFuncs) OnTaskUpdated(state TaskState) {
	if o.TaskUpdated != nil {
		o.TaskUpdated(state)
	}
}

func (o ObserverFuncs) OnRunFinished(summary RunSummary) {
	if o.RunFinished != nil {
		o.RunFinished(summary)
	}
}

// ResultCollection maps task keys to their current state. The runner is the
// only writer; every write replaces the whole record.
type ResultCollection struct {
	mu         sync.RWMutex
	order      []TaskKey
	states     map[TaskKey]TaskState
	inProgress bool
	observers  []Observer
	// bumped by Reset; writes carrying an older value are dropped
	generation uint64

	// serialises notification so observers see publications in write order
	notifyMu sync.Mutex
}

func NewResultCollection() *ResultCollection {
	return &ResultCollection{states: map[TaskKey]TaskState{}}
}

func (c *ResultCollection) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Reset discards the previous run and inserts one Pending state per key. The
// returned generation identifies the new run for UpsertFor and FinishFor.
func (c *ResultCollection) Reset(keys []TaskKey) uint64 {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.order = append([]TaskKey(nil), keys...)
	c.states = make(map[TaskKey]TaskState, len(keys))
	for _, key := range keys {
		c.states[key] = TaskState{Key: key, Phase: PhasePending}
	}
	c.inProgress = true
	c.generation++
	generation := c.generation
	states := c.snapshotLocked()
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	for _, o := range observers {
		o.OnRunStarted(states)
	}
	return generation
}

// Upsert replaces the record for state.Key in the current run. Keys outside
// the current run are rejected.
func (c *ResultCollection) Upsert(state TaskState) bool {
	return c.upsert(0, state)
}

// UpsertFor is Upsert for the run started by the Reset that returned
// generation. It is a no-op once a newer run has been started.
func (c *ResultCollection) UpsertFor(generation uint64, state TaskState) bool {
	return c.upsert(generation, state)
}

func (c *ResultCollection) upsert(generation uint64, state TaskState) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if generation != 0 && generation != c.generation {
		c.mu.Unlock()
		return false
	}
	if _, ok := c.states[state.Key]; !ok {
		c.mu.Unlock()
		return false
	}
	c.states[state.Key] = cloneState(state)
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	for _, o := range observers {
		o.OnTaskUpdated(cloneState(state))
	}
	return true
}

// Finish clears the in-progress flag of the current run and notifies observers.
func (c *ResultCollection) Finish(summary RunSummary) {
	c.finish(0, summary)
}

// FinishFor is Finish for a given run. A superseded run leaves the flag and
// observers of the newer run alone.
func (c *ResultCollection) FinishFor(generation uint64, summary RunSummary) bool {
	return c.finish(generation, summary)
}

func (c *ResultCollection) finish(generation uint64, summary RunSummary) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if generation != 0 && generation != c.generation {
		c.mu.Unlock()
		return false
	}
	c.inProgress = false
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	for _, o := range observers {
		o.OnRunFinished(summary)
	}
	return true
}

func (c *ResultCollection) Get(key TaskKey) (TaskState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.states[key]
	return cloneState(state), ok
}

// GetAll returns the states in emission order.
func (c *ResultCollection) GetAll() []TaskState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *ResultCollection) InProgress() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inProgress
}

func (c *ResultCollection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func (c *ResultCollection) snapshotLocked() []TaskState {
	states := make([]TaskState, len(c.order))
	for i, key := range c.order {
		states[i] = cloneState(c.states[key])
	}
	return states
}

func cloneState(state TaskState) TaskState {
	if state.Image != nil {
		img := *state.Image
		state.Image = &img
	}
	if state.Critique != nil {
		critique := *state.Critique
		state.Critique = &critique
	}
	return state
}
