package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"google.golang.org/genai"

	"wardrobeapi/combinations"
)

// LLMModelName is a Gemini model used by the stylist.
type LLMModelName int32

const (
	Pro25 LLMModelName = iota
	Flash25
	FlashLite25
	Flash25Image
)

func (t LLMModelName) String() string {
	switch t {
	case Pro25:
		return "gemini-2.5-pro"
	case Flash25:
		return "gemini-2.5-flash"
	case FlashLite25:
		return "gemini-2.5-flash-lite"
	case Flash25Image:
		return "gemini-2.5-flash-image"
	default:
		return "gemini-2.5-flash"
	}
}

func floatPointer(f float32) *float32 {
	return &f
}

// ImageResolver fills in the bytes of an image that is only known by its storage key.
type ImageResolver interface {
	Resolve(ctx context.Context, image combinations.Image) (combinations.Image, error)
}

type DetectedProfile struct {
	Height          string `json:"height"`
	Weight          string `json:"weight"`
	SkinTone        string `json:"skinTone"`
	BodyType        string `json:"bodyType"`
	AdditionalNotes string `json:"additionalNotes"`
}

// ToProfile maps detected stats onto the profile fields they fill.
func (d DetectedProfile) ToProfile() combinations.UserProfile {
	return combinations.UserProfile{
		Height:   d.Height,
		Weight:   d.Weight,
		SkinTone: d.SkinTone,
		BodyType: d.BodyType,
		Notes:    d.AdditionalNotes,
	}
}

type ProfileDetector interface {
	DetectProfile(ctx context.Context, image combinations.Image) (*DetectedProfile, error)
}

// Stylist is everything the worker needs from the model provider.
type Stylist interface {
	combinations.VisualSynthesizer
	combinations.CritiqueSynthesizer
	ProfileDetector
}

type GeminiStylist struct {
	client        *genai.Client
	images        ImageResolver
	VisualModel   string
	CritiqueModel string
	DetectModel   string
}

func NewGeminiStylist(ctx context.Context, apiKey string, images ImageResolver) (*GeminiStylist, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiStylist{
		client:        client,
		images:        images,
		VisualModel:   GetEnv("OUTFIT_VISUAL_MODEL", Flash25Image.String()),
		CritiqueModel: GetEnv("OUTFIT_CRITIQUE_MODEL", Flash25.String()),
		DetectModel:   GetEnv("OUTFIT_DETECT_MODEL", Flash25.String()),
	}, nil
}

// Generate renders one try-on. Reference images are resolved here so a broken
// reference only fails the combination that uses it.
func (s *GeminiStylist) Generate(ctx context.Context, body, top, bottom, accessories combinations.ImageSet, volumetric bool) (combinations.Image, error) {
	parts := []*genai.Part{{Text: tryOnTaskDescription(len(accessories) > 0, volumetric)}}

	sections := []struct {
		title        string
		instructions string
		images       combinations.ImageSet
	}{
		{bodyReferenceTitle, bodyReferenceInstructions, body},
		{topReferenceTitle, topReferenceInstructions, top},
		{bottomReferenceTitle, bottomReferenceInstructions, bottom},
		{accessoryReferenceTitle, accessoryReferenceInstructions, accessories},
	}
	for _, section := range sections {
		if len(section.images) == 0 {
			continue
		}
		parts = append(parts, &genai.Part{Text: referenceSectionPrompt(section.title, section.instructions, len(section.images))})
		for _, ref := range section.images {
			part, err := s.imagePart(ctx, ref)
			if err != nil {
				return combinations.Image{}, err
			}
			parts = append(parts, part)
		}
	}
	parts = append(parts, &genai.Part{Text: tryOnFinalPrompt})

	result, err := s.client.Models.GenerateContent(ctx, s.VisualModel, []*genai.Content{{Parts: parts}}, &genai.GenerateContentConfig{
		CandidateCount: 1,
		Temperature:    floatPointer(1),
	})
	if err != nil {
		fmt.Println("Error in GenerateContent:", err)
		return combinations.Image{}, ToSynthesisError(err)
	}
	logUsage(result)
	if err := promptBlocked(result); err != nil {
		return combinations.Image{}, err
	}

	images, err := GetAllInlineImages(result)
	if err != nil {
		return combinations.Image{}, err
	}
	if len(images) == 0 {
		return combinations.Image{}, &combinations.SynthesisError{
			Kind:    combinations.ErrorKindUnknown,
			Message: "No image data found in the model response.",
		}
	}
	return images[0], nil
}

type critiqueResponse struct {
	Rating        float64 `json:"rating"`
	Suitability   string  `json:"suitability"`
	ColorAnalysis string  `json:"colorAnalysis"`
	Verdict       string  `json:"verdict"`
	BestForEvent  string  `json:"bestForEvent"`
	Improvements  string  `json:"improvements"`
}

var critiqueSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"rating":        {Type: genai.TypeNumber, Description: "Overall style rating from 1-10"},
		"suitability":   {Type: genai.TypeString, Description: "Fit analysis and how it works with the body type"},
		"colorAnalysis": {Type: genai.TypeString, Description: "Seasonal color analysis and harmony assessment"},
		"verdict":       {Type: genai.TypeString, Description: "Short memorable fashion statement"},
		"bestForEvent":  {Type: genai.TypeString, Description: "Ideal occasion for this outfit"},
		"improvements":  {Type: genai.TypeString, Description: "Top 3 actionable recommendations"},
	},
	Required: []string{"rating", "suitability", "colorAnalysis", "verdict", "bestForEvent"},
}

// Critique returns an error on any failure; the runner decides whether it
// degrades to the fallback record.
func (s *GeminiStylist) Critique(ctx context.Context, image combinations.Image, profile combinations.UserProfile) (combinations.Critique, error) {
	imagePart, err := s.imagePart(ctx, image)
	if err != nil {
		return combinations.Critique{}, err
	}

	text, err := s.generateJSON(ctx, s.CritiqueModel, critiquePrompt(profile), imagePart, critiqueSchema)
	if err != nil {
		return combinations.Critique{}, err
	}
	return ParseCritique(text)
}

// ParseCritique decodes a model critique. The rating is clamped to 1-10.
func ParseCritique(text string) (combinations.Critique, error) {
	var response critiqueResponse
	if err := json.Unmarshal([]byte(cleanAIResponseText(text)), &response); err != nil {
		return combinations.Critique{}, fmt.Errorf("invalid critique json: %w", err)
	}
	if strings.TrimSpace(response.Verdict) == "" && strings.TrimSpace(response.Suitability) == "" {
		return combinations.Critique{}, errors.New("critique response is missing verdict and suitability")
	}
	return combinations.Critique{
		Rating:        min(max(response.Rating, 1), 10),
		Suitability:   response.Suitability,
		ColorAnalysis: response.ColorAnalysis,
		Verdict:       response.Verdict,
		BestForEvent:  response.BestForEvent,
		Improvements:  response.Improvements,
	}, nil
}

var detectProfileSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"height":          {Type: genai.TypeString},
		"weight":          {Type: genai.TypeString},
		"skinTone":        {Type: genai.TypeString},
		"bodyType":        {Type: genai.TypeString},
		"additionalNotes": {Type: genai.TypeString},
	},
	Required: []string{"height", "weight", "skinTone", "bodyType"},
}

func (s *GeminiStylist) DetectProfile(ctx context.Context, image combinations.Image) (*DetectedProfile, error) {
	imagePart, err := s.imagePart(ctx, image)
	if err != nil {
		return nil, err
	}
	text, err := s.generateJSON(ctx, s.DetectModel, detectProfilePrompt, imagePart, detectProfileSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze body image: %w", err)
	}
	return ParseDetectedProfile(text)
}

func ParseDetectedProfile(text string) (*DetectedProfile, error) {
	var detected DetectedProfile
	if err := json.Unmarshal([]byte(cleanAIResponseText(text)), &detected); err != nil {
		return nil, fmt.Errorf("invalid profile json: %w", err)
	}
	detected.Height = collapseSpaces(detected.Height)
	detected.Weight = collapseSpaces(detected.Weight)
	detected.SkinTone = normalizeLabel(detected.SkinTone)
	detected.BodyType = normalizeLabel(detected.BodyType)
	detected.AdditionalNotes = strings.TrimSpace(detected.AdditionalNotes)
	return &detected, nil
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeLabel title-cases labels the model returned in a single case
// ("ATHLETIC", "fair with cool undertones") and leaves mixed case alone.
func normalizeLabel(s string) string {
	s = collapseSpaces(s)
	if s != strings.ToLower(s) && s != strings.ToUpper(s) {
		return s
	}
	return cases.Title(language.English).String(s)
}

func (s *GeminiStylist) generateJSON(ctx context.Context, model string, prompt string, imagePart *genai.Part, schema *genai.Schema) (string, error) {
	result, err := s.client.Models.GenerateContent(ctx, model, []*genai.Content{{Parts: []*genai.Part{{Text: prompt}, imagePart}}}, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
		CandidateCount:   1,
		Temperature:      floatPointer(0.8),
	})
	if err != nil {
		return "", ToSynthesisError(err)
	}
	logUsage(result)
	if err := promptBlocked(result); err != nil {
		return "", err
	}
	response, err := GetFirstCandidateTextWithThoughts(result)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(response.Text) == "" {
		return "", errors.New("empty text response from model")
	}
	return response.Text, nil
}

func (s *GeminiStylist) imagePart(ctx context.Context, image combinations.Image) (*genai.Part, error) {
	if len(image.Data) == 0 && s.images != nil {
		resolved, err := s.images.Resolve(ctx, image)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &combinations.SynthesisError{
				Kind:    combinations.ErrorKindInvalidInput,
				Message: fmt.Sprintf("Could not load reference image %s", image.Key),
				Err:     err,
			}
		}
		image = resolved
	}
	if len(image.Data) == 0 {
		return nil, &combinations.SynthesisError{
			Kind:    combinations.ErrorKindInvalidInput,
			Message: fmt.Sprintf("Reference image %s has no data", image.Key),
		}
	}
	mimeType := image.MIMEType
	if mimeType == "" {
		mimeType = http.DetectContentType(image.Data)
	}
	return &genai.Part{InlineData: &genai.Blob{Data: image.Data, MIMEType: mimeType}}, nil
}

// ToSynthesisError converts a Gemini API failure into structured metadata the
// classifier understands. Context errors pass through untouched.
func ToSynthesisError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var synthErr *combinations.SynthesisError
	if errors.As(err, &synthErr) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &combinations.SynthesisError{StatusCode: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &combinations.SynthesisError{StatusCode: apiErrPtr.Code, Status: apiErrPtr.Status, Message: apiErrPtr.Message, Err: err}
	}
	return &combinations.SynthesisError{Message: err.Error(), Err: err}
}

func promptBlocked(result *genai.GenerateContentResponse) error {
	if result.PromptFeedback == nil || result.PromptFeedback.BlockReason == "" {
		return nil
	}
	fmt.Println("[Safety] prompt blocked:", result.PromptFeedback.BlockReason, result.PromptFeedback.BlockReasonMessage)
	return &combinations.SynthesisError{
		Kind:       combinations.ErrorKindInvalidInput,
		StatusCode: http.StatusBadRequest,
		Status:     string(result.PromptFeedback.BlockReason),
		Message:    fmt.Sprintf("content violation: %s", result.PromptFeedback.BlockReasonMessage),
	}
}

func logUsage(result *genai.GenerateContentResponse) {
	if result == nil || result.UsageMetadata == nil {
		fmt.Println("UsageMetadata is nil!")
		return
	}
	fmt.Printf("Tokens: input %d, output %d, thoughts %d, total %d\n",
		result.UsageMetadata.PromptTokenCount,
		result.UsageMetadata.CandidatesTokenCount,
		result.UsageMetadata.ThoughtsTokenCount,
		result.UsageMetadata.TotalTokenCount,
	)
}

// GetAllInlineImages returns every inline image of every candidate. A candidate
// blocked by a safety rating is reported as invalid input.
func GetAllInlineImages(result *genai.GenerateContentResponse) ([]combinations.Image, error) {
	if result == nil {
		return nil, fmt.Errorf("cannot read images from an empty response")
	}

	var images []combinations.Image
	for _, cand := range result.Candidates {
		for _, rating := range cand.SafetyRatings {
			if rating.Blocked {
				return nil, &combinations.SynthesisError{
					Kind:    combinations.ErrorKindInvalidInput,
					Status:  string(rating.Category),
					Message: fmt.Sprintf("content blocked by safety setting: %s", rating.Category),
				}
			}
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || !strings.HasPrefix(part.InlineData.MIMEType, "image/") {
				continue
			}
			if len(part.InlineData.Data) > 0 {
				images = append(images, combinations.Image{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data})
			}
		}
	}
	return images, nil
}

type ResponseWithThoughts struct {
	Thoughts string `json:"thoughts"`
	Text     string `json:"text"`
}

func GetFirstCandidateTextWithThoughts(result *genai.GenerateContentResponse) (*ResponseWithThoughts, error) {
	var thinkingContent string
	for _, c := range result.Candidates {
		fmt.Println("Finish reason: ", c.FinishReason, " Finish message: ", c.FinishMessage)
		for _, rating := range c.SafetyRatings {
			if rating.Blocked {
				return nil, &combinations.SynthesisError{
					Kind:    combinations.ErrorKindInvalidInput,
					Status:  string(rating.Category),
					Message: fmt.Sprintf("content violation: %s", rating.Category),
				}
			}
		}
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if part.Thought && part.Text != "" {
				thinkingContent = part.Text
			}
		}
	}
	return &ResponseWithThoughts{
		Thoughts: thinkingContent,
		Text:     result.Text(),
	}, nil
}

// cleanAIResponseText strips markdown code fences models sometimes wrap JSON in.
func cleanAIResponseText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
