package combinations

import "fmt"

type Role string

const (
	RoleBody      Role = "body"
	RoleTop       Role = "top"
	RoleBottom    Role = "bottom"
	RoleAccessory Role = "accessory"
)

// Image is one reference image or one synthesized artifact. Key is the storage
// object key when the bytes live in object storage; Data may be empty until the
// image is resolved by a synthesis client.
type Image struct {
	Key      string `json:"key,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     []byte `json:"-"`
}

func (img Image) Empty() bool {
	return img.Key == "" && len(img.Data) == 0
}

// ImageSet is an ordered set of images of one item or of the body profile.
type ImageSet []Image

type WardrobeItem struct {
	ID     string   `json:"id"`
	Role   Role     `json:"role"`
	Images ImageSet `json:"images"`
}

func (item WardrobeItem) Valid() bool {
	return len(item.Images) > 0
}

// Snapshot is an immutable copy of the wardrobe taken when a run starts.
type Snapshot struct {
	Body        ImageSet       `json:"body"`
	Tops        []WardrobeItem `json:"tops"`
	Bottoms     []WardrobeItem `json:"bottoms"`
	Accessories []WardrobeItem `json:"accessories"`
	Volumetric  bool           `json:"volumetric"`
}

// TaskKey identifies one combination. Two keys are equal only when both item
// ids are equal, so ids containing "-" cannot collide the way a joined string would.
type TaskKey struct {
	TopID    string `json:"top_id"`
	BottomID string `json:"bottom_id"`
}

func (k TaskKey) String() string {
	return k.TopID + "-" + k.BottomID
}

type TaskDescriptor struct {
	Key         TaskKey
	Body        ImageSet
	Top         ImageSet
	Bottom      ImageSet
	Accessories ImageSet
	Volumetric  bool
}

type Phase string

const (
	PhasePending            Phase = "pending"
	PhaseImageGenerating    Phase = "image_generating"
	PhaseImageReady         Phase = "image_ready"
	PhaseCritiqueGenerating Phase = "critique_generating"
	PhaseComplete           Phase = "complete"
	PhaseFailed             Phase = "failed"
)

func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

type UserProfile struct {
	Height          string `json:"height"`
	Weight          string `json:"weight"`
	SkinTone        string `json:"skin_tone"`
	BodyType        string `json:"body_type"`
	Occasion        string `json:"occasion"`
	StylePreference string `json:"style_preference"`
	Notes           string `json:"notes"`
	Volumetric      bool   `json:"volumetric"`
}

type Critique struct {
	Rating        float64 `json:"rating"`
	Suitability   string  `json:"suitability"`
	ColorAnalysis string  `json:"color_analysis"`
	Verdict       string  `json:"verdict"`
	BestForEvent  string  `json:"best_for_event"`
	Improvements  string  `json:"improvements,omitempty"`
	Degraded      bool    `json:"degraded"`
}

// FallbackCritique is the fixed record published when the critique call fails
// and the runner is configured to absorb critique failures.
func FallbackCritique() Critique {
	return Critique{
		Rating:        5,
		Suitability:   "Unable to complete detailed analysis due to a technical issue. Please try again.",
		ColorAnalysis: "Color analysis temporarily unavailable.",
		Verdict:       "Analysis incomplete - please regenerate for full stylist feedback.",
		BestForEvent:  "Unable to determine",
		Improvements:  "Please regenerate analysis for personalized recommendations.",
		Degraded:      true,
	}
}

type TaskState struct {
	Key          TaskKey   `json:"key"`
	Phase        Phase     `json:"phase"`
	Image        *Image    `json:"image,omitempty"`
	Critique     *Critique `json:"critique,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

func (s TaskState) String() string {
	if s.Phase == PhaseFailed {
		return fmt.Sprintf("%s %s (%s)", s.Key, s.Phase, s.ErrorMessage)
	}
	return fmt.Sprintf("%s %s", s.Key, s.Phase)
}
