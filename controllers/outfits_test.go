package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wardrobeapi/combinations"
	"wardrobeapi/models"
	"wardrobeapi/services"
	"wardrobeapi/tasks"
	"wardrobeapi/test"
)

func TestStartRun(t *testing.T) {
	e, deps := setupTestServer(t)
	user := test.FakeUser(deps.db, "device-outfits")
	pk := test.UserPk(user)
	test.FakeWardrobe(deps.db, user, 2, 2)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("POST", "/outfits/runs", pk, models.OutfitRunIn{Occasion: StrPointer("Gallery opening")}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out models.OutfitRunOut
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.InProgress)
	assert.Equal(t, 4, out.Total)
	require.Len(t, out.Results, 4)
	for _, result := range out.Results {
		assert.Equal(t, combinations.PhasePending, result.Phase)
		assert.Nil(t, result.ImageUrl)
	}
	// top-major order
	assert.Equal(t, out.Results[0].TopItemId, out.Results[1].TopItemId)
	assert.NotEqual(t, out.Results[1].TopItemId, out.Results[2].TopItemId)

	assert.Equal(t, []string{tasks.TypeOutfitRun}, deps.enqueuer.Types())
	var payload tasks.OutfitRunPayload
	require.NoError(t, json.Unmarshal(deps.enqueuer.Tasks[0].Payload(), &payload))
	assert.Equal(t, out.Id, payload.RunID)

	var run models.OutfitRun
	require.NoError(t, deps.db.First(&run, out.Id).Error)
	profile, err := run.Profile()
	require.NoError(t, err)
	assert.Equal(t, "Gallery opening", profile.Occasion)

	// the stored profile keeps its own occasion
	var stored models.UserProfile
	require.NoError(t, deps.db.Where("user_account_id = ?", user.ID).First(&stored).Error)
	assert.Equal(t, "", stored.Occasion)

	// one run at a time
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("POST", "/outfits/runs", pk, nil))
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Len(t, deps.enqueuer.Tasks, 1)
}

func TestStartRunInsufficientWardrobe(t *testing.T) {
	e, deps := setupTestServer(t)
	user := test.FakeUser(deps.db, "device-empty")
	pk := test.UserPk(user)
	test.FakeItem(deps.db, user, combinations.RoleTop, 0, "users/top.png")
	// bottom without a confirmed photo is not usable
	test.FakeItem(deps.db, user, combinations.RoleBottom, 0)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("POST", "/outfits/runs", pk, nil))
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	var resp struct {
		Error   string              `json:"error"`
		Missing []combinations.Role `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []combinations.Role{combinations.RoleBody, combinations.RoleBottom}, resp.Missing)

	var count int64
	deps.db.Model(&models.OutfitRun{}).Count(&count)
	assert.Equal(t, int64(0), count)
	assert.Empty(t, deps.enqueuer.Tasks)
}

func TestStartRunEnqueueFailure(t *testing.T) {
	e, deps := setupTestServer(t)
	deps.enqueuer.Err = errors.New("redis is down")
	user := test.FakeUser(deps.db, "device-redis")
	test.FakeWardrobe(deps.db, user, 1, 1)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("POST", "/outfits/runs", test.UserPk(user), nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// the failed run does not block the next attempt
	var run models.OutfitRun
	require.NoError(t, deps.db.Where("user_account_id = ?", user.ID).First(&run).Error)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	deps.enqueuer.Err = nil
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("POST", "/outfits/runs", test.UserPk(user), nil))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestGetRuns(t *testing.T) {
	e, deps := setupTestServer(t)
	user := test.FakeUser(deps.db, "device-results")
	stranger := test.FakeUser(deps.db, "device-curious")
	pk := test.UserPk(user)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("GET", "/outfits/runs/latest", pk, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, tops, bottoms := test.FakeWardrobe(deps.db, user, 1, 1)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("POST", "/outfits/runs", pk, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var started models.OutfitRunOut
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))

	// the worker completes the only combination
	var row models.OutfitResult
	require.NoError(t, deps.db.Where("outfit_run_id = ?", started.Id).First(&row).Error)
	row.ApplyState(combinations.TaskState{
		Key:      combinations.TaskKey{TopID: tops[0].ItemID(), BottomID: bottoms[0].ItemID()},
		Phase:    combinations.PhaseComplete,
		Image:    &combinations.Image{Key: "users/looks/1.png", MIMEType: "image/png"},
		Critique: &combinations.Critique{Rating: 9, Verdict: "Sharp"},
	})
	require.NoError(t, deps.db.Save(&row).Error)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("GET", "/outfits/runs/latest", pk, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var latest models.OutfitRunOut
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, started.Id, latest.Id)
	require.Len(t, latest.Results, 1)
	result := latest.Results[0]
	assert.Equal(t, combinations.PhaseComplete, result.Phase)
	require.NotNil(t, result.ImageUrl)
	assert.Equal(t, "https://fakebucketurl.com/users/looks/1.png", *result.ImageUrl)
	require.NotNil(t, result.Critique)
	assert.Equal(t, 9.0, result.Critique.Rating)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("GET", fmt.Sprintf("/outfits/runs/%d", started.Id), pk, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("GET", fmt.Sprintf("/outfits/runs/%d", started.Id), test.UserPk(stranger), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamFinishedRun(t *testing.T) {
	e, deps := setupTestServer(t)
	user := test.FakeUser(deps.db, "device-stream-done")
	test.FakeWardrobe(deps.db, user, 1, 1)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("POST", "/outfits/runs", test.UserPk(user), nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	var started models.OutfitRunOut
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	deps.db.Model(&models.OutfitRun{}).Where("id = ?", started.Id).Update("status", models.RunStatusCompleted)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("GET", fmt.Sprintf("/outfits/runs/%d/events", started.Id), test.UserPk(user), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "event: snapshot\ndata: "), rec.Body.String())
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "event: "))
	assert.Equal(t, 0, deps.bus.Subscribers(started.Id))
}

func TestStreamRunEvents(t *testing.T) {
	e, deps := setupTestServer(t)
	user := test.FakeUser(deps.db, "device-stream")
	pk := test.UserPk(user)
	_, tops, bottoms := test.FakeWardrobe(deps.db, user, 1, 1)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, test.NewJSONAuthRequest("POST", "/outfits/runs", pk, nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	var started models.OutfitRunOut
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))

	server := httptest.NewServer(e)
	defer server.Close()

	body := make(chan string, 1)
	go func() {
		req, _ := http.NewRequest("GET", fmt.Sprintf("%s/outfits/runs/%d/events", server.URL, started.Id), nil)
		req.Header.Set("Authorization", "Bearer "+test.GenerateUserToken(pk))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			body <- err.Error()
			return
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body <- string(data)
	}()

	require.Eventually(t, func() bool { return deps.bus.Subscribers(started.Id) == 1 }, 5*time.Second, 10*time.Millisecond)

	key := combinations.TaskKey{TopID: tops[0].ItemID(), BottomID: bottoms[0].ItemID()}
	ctx := t.Context()
	require.NoError(t, deps.bus.Publish(ctx, services.RunEvent{
		Type:  services.RunEventTask,
		RunID: started.Id,
		Task: &combinations.TaskState{
			Key:   key,
			Phase: combinations.PhaseImageReady,
			Image: &combinations.Image{Key: "users/looks/stream.png"},
		},
	}))
	require.NoError(t, deps.bus.Publish(ctx, services.RunEvent{
		Type:    services.RunEventFinished,
		RunID:   started.Id,
		Summary: &combinations.RunSummary{Total: 1, Completed: 1},
	}))

	var stream string
	select {
	case stream = <-body:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after run_finished")
	}

	snapshotAt := strings.Index(stream, "event: snapshot\n")
	taskAt := strings.Index(stream, "event: task_updated\n")
	finishedAt := strings.Index(stream, "event: run_finished\n")
	require.True(t, snapshotAt >= 0 && taskAt > snapshotAt && finishedAt > taskAt, stream)
	assert.Contains(t, stream, `"image_url":"https://fakebucketurl.com/users/looks/stream.png"`)
	assert.Contains(t, stream, `"phase":"image_ready"`)
	assert.Contains(t, stream, fmt.Sprintf(`"key":%q`, key.String()))

	require.Eventually(t, func() bool { return deps.bus.Subscribers(started.Id) == 0 }, 5*time.Second, 10*time.Millisecond)
}
