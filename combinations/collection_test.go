package combinations

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCollectionReplacesWholeRecord(t *testing.T) {
	results := NewResultCollection()
	key := TaskKey{"T1", "B1"}
	results.Reset([]TaskKey{key})

	critique := Critique{Rating: 7}
	require.True(t, results.Upsert(TaskState{Key: key, Phase: PhaseComplete, Image: &Image{Key: "a"}, Critique: &critique}))
	require.True(t, results.Upsert(TaskState{Key: key, Phase: PhaseFailed, ErrorMessage: "boom"}))

	state, ok := results.Get(key)
	require.True(t, ok)
	assert.Equal(t, PhaseFailed, state.Phase)
	assert.Nil(t, state.Image)
	assert.Nil(t, state.Critique)
}

func TestResultCollectionRejectsUnknownKeys(t *testing.T) {
	results := NewResultCollection()
	results.Reset([]TaskKey{{"T1", "B1"}})

	var updates int
	results.AddObserver(ObserverFuncs{TaskUpdated: func(TaskState) { updates++ }})

	assert.False(t, results.Upsert(TaskState{Key: TaskKey{"T2", "B1"}, Phase: PhaseComplete}))
	assert.Equal(t, 1, results.Len())
	assert.Zero(t, updates)
}

func TestResultCollectionReturnsCopies(t *testing.T) {
	results := NewResultCollection()
	key := TaskKey{"T1", "B1"}
	results.Reset([]TaskKey{key})
	results.Upsert(TaskState{Key: key, Phase: PhaseImageReady, Image: &Image{Key: "a"}})

	state, _ := results.Get(key)
	state.Image.Key = "mutated"

	again, _ := results.Get(key)
	assert.Equal(t, "a", again.Image.Key)
}

func TestResultCollectionObserverLifecycle(t *testing.T) {
	results := NewResultCollection()

	var events []string
	results.AddObserver(ObserverFuncs{
		RunStarted:  func(states []TaskState) { events = append(events, "started") },
		TaskUpdated: func(state TaskState) { events = append(events, string(state.Phase)) },
		RunFinished: func(summary RunSummary) { events = append(events, "finished") },
	})
	// Partial adapters are fine.
	results.AddObserver(ObserverFuncs{})

	key := TaskKey{"T1", "B1"}
	results.Reset([]TaskKey{key})
	assert.True(t, results.InProgress())
	results.Upsert(TaskState{Key: key, Phase: PhaseImageGenerating})
	results.Finish(RunSummary{Total: 1})
	assert.False(t, results.InProgress())

	assert.Equal(t, []string{"started", "image_generating", "finished"}, events)
}

func TestResultCollectionConcurrentReaders(t *testing.T) {
	results := NewResultCollection()
	keys := []TaskKey{{"T1", "B1"}, {"T2", "B1"}}
	results.Reset(keys)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Len(t, results.GetAll(), 2)
			}
		}()
	}
	for j := 0; j < 100; j++ {
		results.Upsert(TaskState{Key: keys[j%2], Phase: PhaseImageGenerating})
	}
	wg.Wait()
}

func TestCollectionDropsWritesFromOlderGeneration(t *testing.T) {
	key := TaskKey{"T1", "B1"}
	results := NewResultCollection()
	first := results.Reset([]TaskKey{key})
	second := results.Reset([]TaskKey{key})
	assert.NotEqual(t, first, second)

	assert.False(t, results.UpsertFor(first, TaskState{Key: key, Phase: PhaseComplete}))
	assert.False(t, results.FinishFor(first, RunSummary{Total: 1, Completed: 1}))
	state, _ := results.Get(key)
	assert.Equal(t, PhasePending, state.Phase)
	assert.True(t, results.InProgress())

	assert.True(t, results.UpsertFor(second, TaskState{Key: key, Phase: PhaseImageGenerating}))
	assert.True(t, results.FinishFor(second, RunSummary{Total: 1, Failed: 1}))
	assert.False(t, results.InProgress())
}
