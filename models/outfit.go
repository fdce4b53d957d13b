package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"wardrobeapi/combinations"
)

type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	// the worker could not drive the run at all
	RunStatusFailed RunStatus = "failed"
)

// OutfitRun is one generation run. Reference image keys and the profile are
// frozen when the run starts so later wardrobe edits do not leak into it.
type OutfitRun struct {
	JsonModel
	UserAccountID      uint           `gorm:"index" json:"-"`
	UserAccount        UserAccount    `json:"-"`
	Status             RunStatus      `gorm:"index" json:"status"`
	Volumetric         bool           `json:"volumetric"`
	BodyImageKeys      pq.StringArray `gorm:"type:text[]" json:"-"`
	AccessoryImageKeys pq.StringArray `gorm:"type:text[]" json:"-"`
	ProfileJSON        string         `gorm:"type:text" json:"-"`
	Total              int            `json:"total"`
	Completed          int            `json:"completed"`
	Failed             int            `json:"failed"`
	StartedAt          *time.Time     `json:"started_at"`
	FinishedAt         *time.Time     `json:"finished_at"`
	Results            []OutfitResult `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// OutfitResult is the persisted TaskState of one top/bottom combination.
type OutfitResult struct {
	JsonModel
	OutfitRunID     uint               `gorm:"uniqueIndex:idx_outfit_result_key" json:"-"`
	TopItemID       string             `gorm:"uniqueIndex:idx_outfit_result_key" json:"top_item_id"`
	BottomItemID    string             `gorm:"uniqueIndex:idx_outfit_result_key" json:"bottom_item_id"`
	Position        int                `json:"position"`
	TopImageKeys    pq.StringArray     `gorm:"type:text[]" json:"-"`
	BottomImageKeys pq.StringArray     `gorm:"type:text[]" json:"-"`
	Phase           combinations.Phase `json:"phase"`
	ImageKey        *string            `json:"-"`
	Rating          *float64           `json:"rating"`
	Suitability     string             `json:"suitability"`
	ColorAnalysis   string             `json:"color_analysis"`
	Verdict         string             `json:"verdict"`
	BestForEvent    string             `json:"best_for_event"`
	Improvements    string             `json:"improvements"`
	Degraded        bool               `json:"degraded"`
	ErrorKind       string             `json:"error_kind"`
	ErrorMessage    string             `json:"error_message"`
}

var ErrRunInProgress = errors.New("a generation run is already in progress")

// CreateOutfitRun freezes the expanded combinations into a new in-progress run
// with one pending row per descriptor.
func CreateOutfitRun(db *gorm.DB, userID uint, descriptors []combinations.TaskDescriptor, profile combinations.UserProfile) (*OutfitRun, error) {
	if len(descriptors) == 0 {
		return nil, errors.New("no combinations to generate")
	}
	now := time.Now()
	first := descriptors[0]
	run := &OutfitRun{
		UserAccountID:      userID,
		Status:             RunStatusInProgress,
		Volumetric:         first.Volumetric,
		BodyImageKeys:      imageKeys(first.Body),
		AccessoryImageKeys: imageKeys(first.Accessories),
		Total:              len(descriptors),
		StartedAt:          &now,
	}
	if err := run.SetProfile(profile); err != nil {
		return nil, err
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		var running int64
		if err := tx.Model(&OutfitRun{}).Where("user_account_id = ? AND status = ?", userID, RunStatusInProgress).Count(&running).Error; err != nil {
			return err
		}
		if running > 0 {
			return ErrRunInProgress
		}
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		results := NewOutfitResults(run.ID, descriptors)
		return tx.CreateInBatches(&results, 500).Error
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (run OutfitRun) InProgress() bool {
	return run.Status == RunStatusInProgress
}

func (run *OutfitRun) SetProfile(profile combinations.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	run.ProfileJSON = string(data)
	return nil
}

func (run OutfitRun) Profile() (combinations.UserProfile, error) {
	var profile combinations.UserProfile
	if run.ProfileJSON == "" {
		return profile, nil
	}
	err := json.Unmarshal([]byte(run.ProfileJSON), &profile)
	profile.Volumetric = run.Volumetric
	return profile, err
}

// NewOutfitResults builds one pending row per descriptor, in emission order.
func NewOutfitResults(runID uint, descriptors []combinations.TaskDescriptor) []OutfitResult {
	results := make([]OutfitResult, 0, len(descriptors))
	for i, descriptor := range descriptors {
		results = append(results, OutfitResult{
			OutfitRunID:     runID,
			TopItemID:       descriptor.Key.TopID,
			BottomItemID:    descriptor.Key.BottomID,
			Position:        i,
			TopImageKeys:    imageKeys(descriptor.Top),
			BottomImageKeys: imageKeys(descriptor.Bottom),
			Phase:           combinations.PhasePending,
		})
	}
	return results
}

func imageKeys(set combinations.ImageSet) pq.StringArray {
	keys := make(pq.StringArray, 0, len(set))
	for _, image := range set {
		keys = append(keys, image.Key)
	}
	return keys
}

// Snapshot rebuilds the frozen input of a run from its rows. results must be
// ordered by position.
func (run OutfitRun) Snapshot(results []OutfitResult) combinations.Snapshot {
	snapshot := combinations.Snapshot{
		Body:       ImageSetFromKeys(run.BodyImageKeys),
		Volumetric: run.Volumetric,
	}
	seenTops := map[string]bool{}
	seenBottoms := map[string]bool{}
	for _, result := range results {
		if !seenTops[result.TopItemID] {
			seenTops[result.TopItemID] = true
			snapshot.Tops = append(snapshot.Tops, combinations.WardrobeItem{
				ID: result.TopItemID, Role: combinations.RoleTop, Images: ImageSetFromKeys(result.TopImageKeys),
			})
		}
		if !seenBottoms[result.BottomItemID] {
			seenBottoms[result.BottomItemID] = true
			snapshot.Bottoms = append(snapshot.Bottoms, combinations.WardrobeItem{
				ID: result.BottomItemID, Role: combinations.RoleBottom, Images: ImageSetFromKeys(result.BottomImageKeys),
			})
		}
	}
	if len(run.AccessoryImageKeys) > 0 {
		// already flattened when the run was created
		snapshot.Accessories = []combinations.WardrobeItem{{
			ID: "accessories", Role: combinations.RoleAccessory, Images: ImageSetFromKeys(run.AccessoryImageKeys),
		}}
	}
	return snapshot
}

func (r OutfitResult) Key() combinations.TaskKey {
	return combinations.TaskKey{TopID: r.TopItemID, BottomID: r.BottomItemID}
}

// ApplyState replaces every mutable column with the published state.
func (r *OutfitResult) ApplyState(state combinations.TaskState) {
	r.Phase = state.Phase
	r.ImageKey = nil
	if state.Image != nil && state.Image.Key != "" {
		key := state.Image.Key
		r.ImageKey = &key
	}
	r.Rating = nil
	r.Suitability, r.ColorAnalysis, r.Verdict, r.BestForEvent, r.Improvements = "", "", "", "", ""
	r.Degraded = false
	if c := state.Critique; c != nil {
		rating := c.Rating
		r.Rating = &rating
		r.Suitability = c.Suitability
		r.ColorAnalysis = c.ColorAnalysis
		r.Verdict = c.Verdict
		r.BestForEvent = c.BestForEvent
		r.Improvements = c.Improvements
		r.Degraded = c.Degraded
	}
	r.ErrorKind = string(state.ErrorKind)
	r.ErrorMessage = state.ErrorMessage
}

func (r OutfitResult) ToState() combinations.TaskState {
	state := combinations.TaskState{
		Key:          r.Key(),
		Phase:        r.Phase,
		ErrorKind:    combinations.ErrorKind(r.ErrorKind),
		ErrorMessage: r.ErrorMessage,
	}
	if r.ImageKey != nil {
		state.Image = &combinations.Image{Key: *r.ImageKey}
	}
	if r.Rating != nil {
		state.Critique = &combinations.Critique{
			Rating:        *r.Rating,
			Suitability:   r.Suitability,
			ColorAnalysis: r.ColorAnalysis,
			Verdict:       r.Verdict,
			BestForEvent:  r.BestForEvent,
			Improvements:  r.Improvements,
			Degraded:      r.Degraded,
		}
	}
	return state
}

type OutfitRunIn struct {
	Occasion *string `json:"occasion"`
}

type OutfitResultOut struct {
	Key          string                 `json:"key"`
	TopItemId    string                 `json:"top_item_id"`
	BottomItemId string                 `json:"bottom_item_id"`
	Phase        combinations.Phase     `json:"phase"`
	ImageUrl     *string                `json:"image_url"`
	Critique     *combinations.Critique `json:"critique"`
	ErrorKind    string                 `json:"error_kind,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

type OutfitRunOut struct {
	Id         uint              `json:"id"`
	InProgress bool              `json:"in_progress"`
	Volumetric bool              `json:"volumetric"`
	Total      int               `json:"total"`
	Completed  int               `json:"completed"`
	Failed     int               `json:"failed"`
	StartedAt  *time.Time        `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at"`
	Results    []OutfitResultOut `json:"results"`
}
