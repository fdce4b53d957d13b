package services

import (
	"fmt"
	"strings"

	"wardrobeapi/combinations"
)

const tryOnTaskPrompt = `You are a fashion visualization model producing photorealistic virtual try-ons.
Create one realistic image of the person from the body references wearing the referenced garments.

Preserve the person exactly: face, expression, skin tone and texture, hair, body proportions and posture. Do not beautify or alter them.
Preserve the garments exactly: fabric texture, colors, prints, logos, seams, buttons, zippers and cut.

Rendering: drape fabric naturally with gravity and the person's body shape, with realistic folds and tension at joints and waist. Use a soft studio key light with subtle fill, consistent light direction, garment shadows on the body and ambient occlusion where fabric meets skin. Blend garment edges into the body, show skin at neck, wrists and ankles where appropriate and layer items correctly.

Scene: clean neutral gray or white seamless backdrop, full body visible head to toe and centered, the person's original stance or a natural standing pose, lookbook quality.`

const tryOnAccessoriesPrompt = `Accessories: place each accessory where it is naturally worn or held. Headphones on ears or around the neck, glasses seated on the nose bridge, bags in hand or on the shoulder, watches and jewelry on wrists and body.`

const tryOnNoAccessoriesPrompt = `Accessories: none in this composition.`

const tryOnVolumetricPrompt = `Volumetric scan mode: render the result as a high-fidelity 3D fashion simulation in the visual quality of garment CAD tools.
Show fabric physics from the material properties: stretch and compression zones, tension against looseness and wrinkle patterns.
Map the garment to the body topology: conformity to body curves, clearance between body and fabric, contact and pressure areas.
Use stronger shadows for depth, enhanced occlusion in seams and mesh-quality surface detail. The person should read as a hyper-realistic scanned avatar with precise fit representation.`

const tryOnFinalPrompt = `Generate exactly one photorealistic image of the person wearing all referenced items, at fashion lookbook or e-commerce photography quality.`

func referenceSectionPrompt(title string, instructions string, count int) string {
	return fmt.Sprintf("%s\n%s\nNumber of reference images: %d", title, instructions, count)
}

var (
	bodyReferenceTitle        = "Reference 1: body template"
	bodyReferenceInstructions = "This is the person who wears the outfit. Use these images as the base. Keep their exact appearance, skin tone, body shape, pose and proportions."

	topReferenceTitle        = "Reference 2: upper body garment"
	topReferenceInstructions = "Apply this top to the torso, shoulders and arms. Keep its exact colors, patterns, logos and fabric. Fit it according to its style and let it drape from the shoulders."

	bottomReferenceTitle        = "Reference 3: lower body garment"
	bottomReferenceInstructions = "Apply these bottoms to the hips, legs and ankles. Keep their exact colors, patterns and fabric, the waist fit and leg drape, with natural creasing at knees and thighs."

	accessoryReferenceTitle        = "Reference 4: accessories"
	accessoryReferenceInstructions = "Add these accessories in natural, functional positions. Keep their colors, materials and branding and show how they interact with the body and clothing."
)

func tryOnTaskDescription(hasAccessories bool, volumetric bool) string {
	var b strings.Builder
	b.WriteString(tryOnTaskPrompt)
	b.WriteString("\n\n")
	if hasAccessories {
		b.WriteString(tryOnAccessoriesPrompt)
	} else {
		b.WriteString(tryOnNoAccessoriesPrompt)
	}
	if volumetric {
		b.WriteString("\n\n")
		b.WriteString(tryOnVolumetricPrompt)
	}
	return b.String()
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func critiquePrompt(profile combinations.UserProfile) string {
	var b strings.Builder
	b.WriteString(`You are a fashion director with twenty years of editorial experience styling celebrities and executives. Your critiques are honest, specific and constructive.

Client profile:
`)
	fmt.Fprintf(&b, "- Height: %s\n", valueOr(profile.Height, "Not specified"))
	fmt.Fprintf(&b, "- Weight: %s\n", valueOr(profile.Weight, "Not specified"))
	fmt.Fprintf(&b, "- Skin tone: %s\n", valueOr(profile.SkinTone, "Not specified"))
	fmt.Fprintf(&b, "- Body type: %s\n", valueOr(profile.BodyType, "Not specified"))
	fmt.Fprintf(&b, "- Target occasion: %s\n", valueOr(profile.Occasion, "Versatile / multi-purpose"))
	fmt.Fprintf(&b, "- Style preferences: %s\n", valueOr(profile.StylePreference, "Not specified"))
	if strings.TrimSpace(profile.Notes) != "" {
		fmt.Fprintf(&b, "- Notes: %s\n", profile.Notes)
	}

	if profile.Volumetric {
		b.WriteString(`
Technical fit analysis mode. The client wants a volumetric fit assessment:
1. Garment clearance: ease between body and fabric at key points, compression zones against excess volume, range of movement.
2. Drape mechanics: how the fabric responds to the body, tension, pulling or bunching, whether fabric weight suits the body.
3. Silhouette volumetrics: shoulder, waist and hip balance and distribution of visual weight.
4. Fit precision: use technical terms (pitch, break, rise, drop), reference fit standards and suggest concrete alterations.
`)
	}

	occasion := valueOr(profile.Occasion, "general wear")
	fmt.Fprintf(&b, `
Analyse the outfit in the image:
1. rating: overall score from 1 to 10. 8-10 editorial worthy, 6-7 solid with minor tweaks, 4-5 functional but unremarkable, 1-3 major revision needed.
2. suitability: how the proportions work with the %s body type, fit issues, what the silhouette highlights or minimises, and how it serves the "%s" occasion, with specific fixes.
3. colorAnalysis: a seasonal color analysis for %s skin tone, which colors work, which to avoid and better alternatives.
4. verdict: one or two memorable, direct sentences.
5. bestForEvent: whether it suits "%s", otherwise the specific occasion it suits best.
6. improvements: the top three concrete changes, including accessories or grooming if relevant.

Be sophisticated, never condescending. Celebrate what works and be specific about what does not.
Return only JSON matching the schema.`,
		valueOr(profile.BodyType, "client's"), occasion, valueOr(profile.SkinTone, "the client's"), occasion)
	return b.String()
}

const detectProfilePrompt = `You are a fashion consultant analysing a full-body photo for clothing fit.

1. height: estimate from body proportions and visible context, in imperial and metric, e.g. "5'9\" / 175cm".
2. weight: estimate from build and frame, a range if uncertain, e.g. "155-165lbs / 70-75kg".
3. skinTone: one of Porcelain, Fair, Light, Medium, Tan, Olive, Deep, Rich Deep, with undertone (warm, cool, neutral), e.g. "Fair with cool undertones".
4. bodyType: one of Rectangular, Triangle (Pear), Inverted Triangle, Hourglass, Athletic, Oval, with a descriptor, e.g. "Athletic with broad shoulders".
5. additionalNotes: posture or asymmetries that affect fit, if any.

Base every estimate on visible evidence and stay conservative. Return only JSON matching the schema.`
