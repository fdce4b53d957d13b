package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"wardrobeapi/combinations"
	"wardrobeapi/models"
	"wardrobeapi/services"
)

// artifactStore uploads every synthesized look before it is published, so the
// persisted state references it by key. The bytes are kept for the critique call.
type artifactStore struct {
	visual  combinations.VisualSynthesizer
	storage services.ObjectStorage
	prefix  string
}

func (a artifactStore) Generate(ctx context.Context, body, top, bottom, accessories combinations.ImageSet, volumetric bool) (combinations.Image, error) {
	image, err := a.visual.Generate(ctx, body, top, bottom, accessories, volumetric)
	if err != nil || len(image.Data) == 0 {
		return image, err
	}
	stored, err := services.UploadArtifact(ctx, a.storage, a.prefix, image)
	if err != nil {
		return combinations.Image{}, fmt.Errorf("failed to store look: %w", err)
	}
	return stored, nil
}

// resultPersister mirrors every publication into the run's result rows.
type resultPersister struct {
	db    *gorm.DB
	runID uint
	tag   string
}

func (p *resultPersister) OnRunStarted(states []combinations.TaskState) {
	// a retried task starts over from pending rows
	for _, state := range states {
		p.save(state)
	}
}

func (p *resultPersister) OnTaskUpdated(state combinations.TaskState) {
	p.save(state)
}

func (p *resultPersister) OnRunFinished(summary combinations.RunSummary) {}

func (p *resultPersister) save(state combinations.TaskState) {
	var row models.OutfitResult
	err := p.db.Where("outfit_run_id = ? AND top_item_id = ? AND bottom_item_id = ?", p.runID, state.Key.TopID, state.Key.BottomID).
		First(&row).Error
	if err != nil {
		fmt.Printf("%s[%s] Result row missing: %v\n", p.tag, state.Key, err)
		sentry.CaptureException(fmt.Errorf("%s[%s] result row missing: %w", p.tag, state.Key, err))
		return
	}
	row.ApplyState(state)
	if err := p.db.Save(&row).Error; err != nil {
		fmt.Printf("%s[%s] Error on saving result: %v\n", p.tag, state.Key, err)
		sentry.CaptureException(fmt.Errorf("%s[%s] error on saving result: %w", p.tag, state.Key, err))
	}
}

// eventForwarder publishes every state replacement to API subscribers.
type eventForwarder struct {
	ctx    context.Context
	events services.RunEventPublisher
	runID  uint
	tag    string
}

func (f *eventForwarder) publish(event services.RunEvent) {
	event.RunID = f.runID
	if err := f.events.Publish(f.ctx, event); err != nil {
		fmt.Printf("%s Error on publishing %s: %v\n", f.tag, event.Type, err)
	}
}

func (f *eventForwarder) OnRunStarted(states []combinations.TaskState) {
	f.publish(services.RunEvent{Type: services.RunEventStarted})
}

func (f *eventForwarder) OnTaskUpdated(state combinations.TaskState) {
	f.publish(services.RunEvent{Type: services.RunEventTask, Task: &state})
}

func (f *eventForwarder) OnRunFinished(summary combinations.RunSummary) {
	f.publish(services.RunEvent{Type: services.RunEventFinished, Summary: &summary})
}

// finishRun clears the in-progress flag and tells the user their looks are ready.
func finishRun(ctx context.Context, db *gorm.DB, notifier services.Notifier, run models.OutfitRun, summary combinations.RunSummary) {
	tag := fmt.Sprintf("[Run: %v]", run.ID)
	now := time.Now()
	err := db.Model(&models.OutfitRun{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
		"status":      models.RunStatusCompleted,
		"total":       summary.Total,
		"completed":   summary.Completed,
		"failed":      summary.Failed,
		"finished_at": now,
	}).Error
	if err != nil {
		fmt.Printf("%s Error on finishing run: %v\n", tag, err)
		sentry.CaptureException(fmt.Errorf("%s error on finishing run: %w", tag, err))
		return
	}
	if notifier == nil || summary.Completed == 0 {
		return
	}
	var user models.UserAccount
	if err := db.First(&user, run.UserAccountID).Error; err != nil || !user.ReceiveNotifications {
		return
	}
	message := fmt.Sprintf("%d of %d outfits rendered", summary.Completed, summary.Total)
	err = notifier.Notify(ctx, run.UserAccountID, "Your looks are ready", message, map[string]string{
		"type":   "outfits_ready",
		"run_id": fmt.Sprint(run.ID),
	})
	if err != nil {
		fmt.Printf("%s Push failed: %v\n", tag, err)
	}
}

func HandleOutfitRunTask(
	ctx context.Context, t *asynq.Task, db *gorm.DB, stylist services.Stylist, storage services.ObjectStorage,
	events services.RunEventPublisher, notifier services.Notifier,
) error {
	var payload OutfitRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("bad payload: %v: %w", err, asynq.SkipRetry)
	}
	tag := fmt.Sprintf("[Run: %v]", payload.RunID)
	fmt.Printf("%s Start Processing\n", tag)

	var run models.OutfitRun
	if err := db.First(&run, payload.RunID).Error; err != nil {
		sentry.CaptureException(fmt.Errorf("[Queue] Error on retrieving run for processing %v: %w", payload.RunID, err))
		return fmt.Errorf("%s not found: %v: %w", tag, err, asynq.SkipRetry)
	}
	if !run.InProgress() {
		fmt.Printf("%s Already %s, skipping\n", tag, run.Status)
		return nil
	}
	var results []models.OutfitResult
	if err := db.Where("outfit_run_id = ?", run.ID).Order("position").Find(&results).Error; err != nil {
		return err
	}

	// The rows hold the snapshot frozen at start; expanding it again yields
	// the same keys in the same order.
	descriptors, err := combinations.Expand(run.Snapshot(results))
	if err != nil {
		fmt.Printf("%s Frozen snapshot is unusable: %v\n", tag, err)
		sentry.CaptureException(fmt.Errorf("%s frozen snapshot is unusable: %w", tag, err))
		markRunFailed(db, run.ID)
		return fmt.Errorf("%s %v: %w", tag, err, asynq.SkipRetry)
	}
	profile, err := run.Profile()
	if err != nil {
		fmt.Printf("%s Bad profile snapshot, continuing without it: %v\n", tag, err)
		profile = combinations.UserProfile{Volumetric: run.Volumetric}
	}

	collection := combinations.NewResultCollection()
	collection.AddObserver(&resultPersister{db: db, runID: run.ID, tag: tag})
	if events != nil {
		collection.AddObserver(&eventForwarder{ctx: context.WithoutCancel(ctx), events: events, runID: run.ID, tag: tag})
	}
	collection.AddObserver(combinations.ObserverFuncs{RunFinished: func(summary combinations.RunSummary) {
		finishRun(context.WithoutCancel(ctx), db, notifier, run, summary)
	}})

	config := RunnerConfigFromEnv()
	config.Tag = tag
	visual := artifactStore{
		visual:  stylist,
		storage: storage,
		prefix:  fmt.Sprintf("users/%d/outfits/%d", run.UserAccountID, run.ID),
	}
	runner := combinations.NewRunner(visual, stylist, collection, config)
	summary := runner.Run(ctx, descriptors, profile)

	fmt.Printf("%s Finished: %d completed, %d failed of %d in %v\n", tag, summary.Completed, summary.Failed, summary.Total, summary.Duration)
	return nil
}

func markRunFailed(db *gorm.DB, runID uint) {
	now := time.Now()
	db.Model(&models.OutfitRun{}).Where("id = ?", runID).Updates(map[string]interface{}{
		"status":      models.RunStatusFailed,
		"finished_at": now,
	})
}

// HandleStaleRunSweepTask closes runs whose worker died mid-run so their
// owners can start a new one. A run is stale once it is older than staleAfter
// and none of its combinations changed within staleAfter. staleAfter never
// drops below MinStaleAfter. Unfinished combinations are marked cancelled.
func HandleStaleRunSweepTask(ctx context.Context, t *asynq.Task, db *gorm.DB, staleAfter time.Duration) error {
	if staleAfter < MinStaleAfter {
		staleAfter = MinStaleAfter
	}
	var runs []models.OutfitRun
	cutoff := time.Now().Add(-staleAfter)
	err := db.Where("status = ? AND created_at < ?", models.RunStatusInProgress, cutoff).
		Where("NOT EXISTS (SELECT 1 FROM outfit_results WHERE outfit_results.outfit_run_id = outfit_runs.id AND outfit_results.updated_at >= ?)", cutoff).
		Find(&runs).Error
	if err != nil {
		sentry.CaptureException(fmt.Errorf("[Sweep] error fetching stale runs: %w", err))
		return err
	}
	fmt.Printf("[Sweep] Found %d stale runs\n", len(runs))

	for _, run := range runs {
		err := db.Transaction(func(tx *gorm.DB) error {
			err := tx.Model(&models.OutfitResult{}).
				Where("outfit_run_id = ? AND phase NOT IN ?", run.ID, []string{string(combinations.PhaseComplete), string(combinations.PhaseFailed)}).
				Updates(map[string]interface{}{
					"phase":         combinations.PhaseFailed,
					"error_kind":    string(combinations.ErrorKindCancelled),
					"error_message": combinations.CancelledMessage,
				}).Error
			if err != nil {
				return err
			}
			var completed, failed int64
			tx.Model(&models.OutfitResult{}).Where("outfit_run_id = ? AND phase = ?", run.ID, combinations.PhaseComplete).Count(&completed)
			tx.Model(&models.OutfitResult{}).Where("outfit_run_id = ? AND phase = ?", run.ID, combinations.PhaseFailed).Count(&failed)
			return tx.Model(&models.OutfitRun{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
				"status":      models.RunStatusFailed,
				"completed":   completed,
				"failed":      failed,
				"finished_at": time.Now(),
			}).Error
		})
		if err != nil {
			fmt.Printf("[Sweep] Failed to close run %d: %v\n", run.ID, err)
			sentry.CaptureException(fmt.Errorf("[Sweep] failed to close run %d: %w", run.ID, err))
			continue
		}
		fmt.Printf("[Run: %v] Closed as stale\n", run.ID)
	}
	return nil
}
