package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"wardrobeapi/combinations"
)

const (
	RunEventStarted  = "run_started"
	RunEventTask     = "task_updated"
	RunEventFinished = "run_finished"
)

// RunEvent is one publication of a run's result collection as sent to API clients.
type RunEvent struct {
	Type    string                   `json:"type"`
	RunID   uint                     `json:"run_id"`
	Task    *combinations.TaskState  `json:"task,omitempty"`
	Summary *combinations.RunSummary `json:"summary,omitempty"`
}

type RunEventPublisher interface {
	Publish(ctx context.Context, event RunEvent) error
}

type RunEventSubscriber interface {
	Subscribe(ctx context.Context, runID uint) (<-chan RunEvent, func(), error)
}

// RunEventBus fans worker publications out to API instances over redis pub/sub.
type RunEventBus struct {
	rdb *redis.Client
}

func NewRunEventBus(addr string) *RunEventBus {
	return &RunEventBus{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (b *RunEventBus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RunEventBus) Close() error {
	return b.rdb.Close()
}

func RunEventChannel(runID uint) string {
	return fmt.Sprintf("outfits:run:%d:events", runID)
}

func (b *RunEventBus) Publish(ctx context.Context, event RunEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, RunEventChannel(event.RunID), payload).Err()
}

// Subscribe streams events for one run until ctx is done or the returned
// close function is called.
func (b *RunEventBus) Subscribe(ctx context.Context, runID uint) (<-chan RunEvent, func(), error) {
	pubsub := b.rdb.Subscribe(ctx, RunEventChannel(runID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to run %d: %w", runID, err)
	}

	events := make(chan RunEvent)
	go func() {
		defer close(events)
		for msg := range pubsub.Channel() {
			var event RunEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				fmt.Printf("[Run: %v] Bad event payload: %v\n", runID, err)
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, func() { pubsub.Close() }, nil
}
