package tasks

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"wardrobeapi/combinations"
	"wardrobeapi/services"
)

const (
	TypeOutfitRun     = "generate:outfits"
	TypeProfileDetect = "profile:detect"
	TypeStaleRunSweep = "outfits:sweep"

	QueueGenerate = "generate"
)

// An outfit run gets OutfitRunTimeout per attempt and OutfitRunMaxRetry retries.
const (
	OutfitRunTimeout  = time.Hour
	OutfitRunMaxRetry = 1
)

// MinStaleAfter is how long a run can legitimately stay in progress before
// every attempt asynq may still make has timed out.
const MinStaleAfter = OutfitRunTimeout * (OutfitRunMaxRetry + 1)

type OutfitRunPayload struct {
	RunID uint `json:"run_id"`
}

type ProfileDetectPayload struct {
	UserID uint `json:"user_id"`
}

// Enqueuer is the part of *asynq.Client the API needs.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client initializes an asynq client for enqueuing tasks
func NewClient() *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")})
}

func NewOutfitRunTask(runID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(OutfitRunPayload{RunID: runID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeOutfitRun, payload), nil
}

func NewProfileDetectTask(userID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(ProfileDetectPayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProfileDetect, payload), nil
}

func NewStaleRunSweepTask() *asynq.Task {
	return asynq.NewTask(TypeStaleRunSweep, []byte{})
}

// RunnerConfigFromEnv reads the run tuning knobs.
func RunnerConfigFromEnv() combinations.Config {
	config := combinations.DefaultConfig()
	config.Concurrency = services.GetEnvInt("OUTFIT_CONCURRENCY", config.Concurrency)
	config.RatePerMinute = services.GetEnvFloat("OUTFIT_RATE_PER_MINUTE", 0)
	switch strings.ToLower(services.GetEnv("OUTFIT_CRITIQUE_POLICY", "")) {
	case string(combinations.CritiqueStrict):
		config.CritiquePolicy = combinations.CritiqueStrict
	default:
		config.CritiquePolicy = combinations.CritiqueFallback
	}
	return config
}
