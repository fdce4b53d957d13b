package combinations

import "context"

// VisualSynthesizer renders one try-on artifact. Failures should be (or wrap)
// a *SynthesisError so the classifier can see status metadata.
type VisualSynthesizer interface {
	Generate(ctx context.Context, body, top, bottom, accessories ImageSet, volumetric bool) (Image, error)
}

// CritiqueSynthesizer rates an artifact against the user profile. The runner's
// CritiquePolicy decides what a returned error means for the task.
type CritiqueSynthesizer interface {
	Critique(ctx context.Context, image Image, profile UserProfile) (Critique, error)
}

type VisualSynthesizerFunc func(ctx context.Context, body, top, bottom, accessories ImageSet, volumetric bool) (Image, error)

func (f VisualSynthesizerFunc) Generate(ctx context.Context, body, top, bottom, accessories ImageSet, volumetric bool) (Image, error) {
	return f(ctx, body, top, bottom, accessories, volumetric)
}

type CritiqueSynthesizerFunc func(ctx context.Context, image Image, profile UserProfile) (Critique, error)

func (f CritiqueSynthesizerFunc) Critique(ctx context.Context, image Image, profile UserProfile) (Critique, error) {
	return f(ctx, image, profile)
}
