package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"wardrobeapi/combinations"
	"wardrobeapi/models"
	"wardrobeapi/services"
	"wardrobeapi/tasks"
)

const sseKeepAlive = 15 * time.Second

type OutfitsController struct {
	URLCache services.URLCacheServiceProvider
	Events   services.RunEventSubscriber
}

func (controller *OutfitsController) OutfitRoutes(g *echo.Group) {
	g.POST("/runs", controller.StartRun)
	g.GET("/runs/latest", controller.LatestRun)
	g.GET("/runs/:runId", controller.GetRun)
	g.GET("/runs/:runId/events", controller.StreamRun)
}

// StartRun expands the current wardrobe into combinations, freezes them into a
// run and queues it. Nothing is created when the wardrobe cannot produce a
// single combination.
func (controller *OutfitsController) StartRun(c echo.Context) error {
	var req models.OutfitRunIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	enqueuer, ok := enqueuerFrom(c)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Service is not available, please try again a bit later"})
	}

	profile, err := models.FindOrCreateProfile(db, user.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not load profile"})
	}
	coreProfile := profile.ToCore()
	if req.Occasion != nil {
		coreProfile.Occasion = *req.Occasion
	}
	wardrobe, err := models.LoadWardrobe(db, user.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not load your wardrobe"})
	}

	descriptors, err := combinations.Expand(wardrobe.Snapshot(coreProfile.Volumetric))
	var insufficient *combinations.InsufficientInputError
	var duplicate *combinations.DuplicateItemError
	switch {
	case errors.As(err, &insufficient):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Add a body photo, at least one top and one bottom first", "missing": insufficient.Missing})
	case errors.As(err, &duplicate):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": duplicate.Error()})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not prepare combinations"})
	}

	run, err := models.CreateOutfitRun(db, user.ID, descriptors, coreProfile)
	if errors.Is(err, models.ErrRunInProgress) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "Your looks are still being generated"})
	}
	if err != nil {
		sentry.CaptureException(fmt.Errorf("[Outfits] error on creating run for %v: %w", user.ID, err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not start generation"})
	}

	task, err := tasks.NewOutfitRunTask(run.ID)
	if err == nil {
		var info *asynq.TaskInfo
		info, err = enqueuer.Enqueue(task, asynq.MaxRetry(tasks.OutfitRunMaxRetry), asynq.Queue(tasks.QueueGenerate), asynq.Timeout(tasks.OutfitRunTimeout))
		if err == nil {
			fmt.Printf("[Queue] Outfit run %v submitted, User ID: %v Task ID %v, %d combinations\n", run.ID, user.ID, info.ID, run.Total)
		}
	}
	if err != nil {
		sentry.CaptureException(fmt.Errorf("[Outfits] error on enqueuing run %v: %w", run.ID, err))
		db.Model(run).Updates(map[string]interface{}{"status": models.RunStatusFailed, "finished_at": time.Now()})
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Sorry, could not start generation, please try again"})
	}

	var results []models.OutfitResult
	db.Where("outfit_run_id = ?", run.ID).Order("position").Find(&results)
	return c.JSON(http.StatusCreated, controller.runOut(c.Request().Context(), *run, results))
}

func (controller *OutfitsController) LatestRun(c echo.Context) error {
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	var run models.OutfitRun
	result := db.Where("user_account_id = ?", user.ID).Order("id desc").Take(&run)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "No looks generated yet"})
	}
	if result.Error != nil {
		return echo.ErrInternalServerError
	}
	return controller.respondRun(c, db, run)
}

func (controller *OutfitsController) GetRun(c echo.Context) error {
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	run, err := findRun(c, db, user.ID)
	if err != nil {
		return err
	}
	return controller.respondRun(c, db, *run)
}

func findRun(c echo.Context, db *gorm.DB, ownerID uint) (*models.OutfitRun, error) {
	runId, err := uintParam(c, "runId")
	if err != nil {
		return nil, echo.ErrBadRequest
	}
	var run models.OutfitRun
	result := db.Where("id = ? AND user_account_id = ?", runId, ownerID).Take(&run)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, echo.ErrNotFound
	}
	if result.Error != nil {
		return nil, echo.ErrInternalServerError
	}
	return &run, nil
}

func (controller *OutfitsController) respondRun(c echo.Context, db *gorm.DB, run models.OutfitRun) error {
	var results []models.OutfitResult
	if err := db.Where("outfit_run_id = ?", run.ID).Order("position").Find(&results).Error; err != nil {
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusOK, controller.runOut(c.Request().Context(), run, results))
}

func (controller *OutfitsController) runOut(ctx context.Context, run models.OutfitRun, results []models.OutfitResult) models.OutfitRunOut {
	out := models.OutfitRunOut{
		Id:         run.ID,
		InProgress: run.InProgress(),
		Volumetric: run.Volumetric,
		Total:      run.Total,
		Completed:  run.Completed,
		Failed:     run.Failed,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Results:    make([]models.OutfitResultOut, 0, len(results)),
	}
	for _, result := range results {
		out.Results = append(out.Results, controller.resultOut(ctx, result.ToState()))
	}
	return out
}

func (controller *OutfitsController) resultOut(ctx context.Context, state combinations.TaskState) models.OutfitResultOut {
	out := models.OutfitResultOut{
		Key:          state.Key.String(),
		TopItemId:    state.Key.TopID,
		BottomItemId: state.Key.BottomID,
		Phase:        state.Phase,
		Critique:     state.Critique,
		ErrorKind:    string(state.ErrorKind),
		ErrorMessage: state.ErrorMessage,
	}
	if state.Image != nil && state.Image.Key != "" {
		url, err := controller.URLCache.GetReadURL(ctx, state.Image.Key)
		if err != nil {
			fmt.Printf("[Outfits] Unable to presign %s: %v\n", state.Image.Key, err)
		} else {
			out.ImageUrl = &url
		}
	}
	return out
}

// StreamRun sends the current run state, then every task-state replacement
// as server-sent events until the run finishes or the client goes away.
func (controller *OutfitsController) StreamRun(c echo.Context) error {
	user, db, ok := contextDeps(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	run, err := findRun(c, db, user.ID)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	var events <-chan services.RunEvent
	if run.InProgress() {
		// subscribe before reading rows so no replacement is missed in between
		var closeSub func()
		events, closeSub, err = controller.Events.Subscribe(ctx, run.ID)
		if err != nil {
			sentry.CaptureException(err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Live updates are not available, poll the run instead"})
		}
		defer closeSub()
	}
	var results []models.OutfitResult
	if err := db.First(run, run.ID).Error; err != nil {
		return echo.ErrInternalServerError
	}
	db.Where("outfit_run_id = ?", run.ID).Order("position").Find(&results)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "snapshot", controller.runOut(ctx, *run, results)); err != nil {
		return nil
	}
	if !run.InProgress() {
		return nil
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case event, open := <-events:
			if !open {
				return nil
			}
			var payload interface{} = event
			switch event.Type {
			case services.RunEventTask:
				if event.Task != nil {
					payload = controller.resultOut(ctx, *event.Task)
				}
			case services.RunEventFinished:
				payload = event.Summary
			}
			if err := writeSSE(w, event.Type, payload); err != nil {
				return nil
			}
			if event.Type == services.RunEventFinished {
				return nil
			}
		}
	}
}

func writeSSE(w *echo.Response, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
