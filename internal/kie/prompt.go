package kie

import (
	"fmt"
	"strings"

	"github.com/digkill/SmachnoBot/internal/models"
)

var stylePrompts = map[models.Style]string{
	models.StyleBright:  "Apply vibrant, juicy colors, fresh and appetizing look, bright natural daylight, colorful realistic background, energetic and lively atmosphere.",
	models.StylePremium: "Transform into luxury realistic pastry shop aesthetic, elegant photorealistic presentation, sophisticated natural styling, premium quality look, high-end bakery atmosphere.",
	models.StyleCozy:    "Apply cozy realistic cafe atmosphere, warm and inviting natural lighting, rustic or vintage realistic style, homely feeling, warm natural color palette.",
	models.StyleWedding: "Transform into wedding cake realistic aesthetic, elegant and romantic photorealistic style, soft natural pastel colors, delicate realistic decorations.",
}

const (
	basePrompt = "Transform this food photography into a highly realistic, professional Instagram-quality image: %s. " +
		"Enhance lighting to be natural and flattering, improve composition and styling, add realistic depth of field. " +
		"Keep the main subject authentic but make it look premium and appetizing."
	realismSuffix   = "Absolutely photorealistic, looks like real professional photography, no illustration style, no cartoon, no AI-generated look."
	alternateSuffix = "Different angle, alternative composition, slightly different styling and perspective."
)

// BuildDessertPrompt assembles the generation prompt. Variants after the
// first ask for an alternative composition.
func BuildDessertPrompt(opts DessertOptions) string {
	description := strings.TrimSpace(opts.Description)
	if description == "" {
		description = "a dessert from a local bakery"
	}

	parts := []string{fmt.Sprintf(basePrompt, description)}
	if p, ok := stylePrompts[opts.Style]; ok {
		parts = append(parts, p)
	}
	if w := strings.TrimSpace(opts.Wishes); w != "" {
		parts = append(parts, "Additional requirements: "+w+".")
	}
	parts = append(parts, realismSuffix)
	if opts.Variant > 0 {
		parts = append(parts, alternateSuffix)
	}
	return strings.Join(parts, " ")
}
