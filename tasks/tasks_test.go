package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wardrobeapi/combinations"
	"wardrobeapi/services"
	"wardrobeapi/test"
)

func TestNewOutfitRunTask(t *testing.T) {
	task, err := NewOutfitRunTask(42)
	require.NoError(t, err)
	assert.Equal(t, TypeOutfitRun, task.Type())

	var payload OutfitRunPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, uint(42), payload.RunID)

	detect, err := NewProfileDetectTask(7)
	require.NoError(t, err)
	assert.Equal(t, TypeProfileDetect, detect.Type())
}

func TestRunnerConfigFromEnv(t *testing.T) {
	config := RunnerConfigFromEnv()
	assert.Equal(t, 1, config.Concurrency)
	assert.Zero(t, config.RatePerMinute)
	assert.Equal(t, combinations.CritiqueFallback, config.CritiquePolicy)

	t.Setenv("OUTFIT_CONCURRENCY", "4")
	t.Setenv("OUTFIT_RATE_PER_MINUTE", "30")
	t.Setenv("OUTFIT_CRITIQUE_POLICY", "STRICT")
	config = RunnerConfigFromEnv()
	assert.Equal(t, 4, config.Concurrency)
	assert.Equal(t, 30.0, config.RatePerMinute)
	assert.Equal(t, combinations.CritiqueStrict, config.CritiquePolicy)
	assert.NotNil(t, config.Classifier)
}

func TestArtifactStoreUploadsLook(t *testing.T) {
	storage := test.NewMemoryStorage()
	store := artifactStore{visual: &test.FakeStylist{}, storage: storage, prefix: "users/1/outfits/2"}

	image, err := store.Generate(context.Background(),
		combinations.ImageSet{{Key: "body.png"}}, combinations.ImageSet{{Key: "t.png"}}, combinations.ImageSet{{Key: "b.png"}}, nil, false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(image.Key, "users/1/outfits/2/"))
	assert.True(t, strings.HasSuffix(image.Key, ".png"))
	assert.Equal(t, []byte("look:t.png+b.png"), image.Data)
	assert.Equal(t, 1, storage.Count())
}

func TestArtifactStorePassesThroughFailuresAndEmptyLooks(t *testing.T) {
	storage := test.NewMemoryStorage()
	boom := errors.New("boom")
	failing := artifactStore{visual: &test.FakeStylist{Failures: map[string]error{"t.png": boom}}, storage: storage}
	_, err := failing.Generate(context.Background(), nil, combinations.ImageSet{{Key: "t.png"}}, combinations.ImageSet{{Key: "b.png"}}, nil, false)
	assert.ErrorIs(t, err, boom)

	empty := artifactStore{
		visual: combinations.VisualSynthesizerFunc(func(ctx context.Context, body, top, bottom, accessories combinations.ImageSet, volumetric bool) (combinations.Image, error) {
			return combinations.Image{}, nil
		}),
		storage: storage,
	}
	image, err := empty.Generate(context.Background(), nil, nil, nil, nil, false)
	assert.NoError(t, err)
	assert.True(t, image.Empty())
	assert.Zero(t, storage.Count())
}

func TestEventForwarderPublishesEveryReplacement(t *testing.T) {
	bus := test.NewMemoryEventBus()
	collection := combinations.NewResultCollection()
	collection.AddObserver(&eventForwarder{ctx: context.Background(), events: bus, runID: 5, tag: "[Run: 5]"})

	key := combinations.TaskKey{TopID: "1", BottomID: "2"}
	collection.Reset([]combinations.TaskKey{key})
	collection.Upsert(combinations.TaskState{Key: key, Phase: combinations.PhaseImageGenerating})
	collection.Finish(combinations.RunSummary{Total: 1, Failed: 1})

	events := bus.Published()
	require.Len(t, events, 3)
	assert.Equal(t, services.RunEventStarted, events[0].Type)
	assert.Equal(t, services.RunEventTask, events[1].Type)
	assert.Equal(t, combinations.PhaseImageGenerating, events[1].Task.Phase)
	assert.Equal(t, services.RunEventFinished, events[2].Type)
	assert.Equal(t, 1, events[2].Summary.Failed)
	for _, event := range events {
		assert.Equal(t, uint(5), event.RunID)
	}
}
