package catalog

import "strings"

// Style describes one generation style: an ordered, immutable list of prompt
// templates plus the prefix/suffix merged into every prompt sent downstream.
type Style struct {
	ID           string
	Title        string
	PromptPrefix string
	PromptSuffix string
	Prompts      []string
}

// Compose merges a catalog template into the full prompt stored on a job and
// sent to the generator.
func (s Style) Compose(template string) string {
	return s.PromptPrefix + template + s.PromptSuffix
}

// StripPrefix removes the style prefix from a stored job prompt so the
// remainder can be matched against catalog templates.
func (s Style) StripPrefix(stored string) string {
	return strings.TrimPrefix(stored, s.PromptPrefix)
}

// Catalog is the static per-style prompt configuration. It is built once at
// startup and injected where needed; nothing mutates it afterwards.
type Catalog struct {
	styles map[string]Style
}

func New(styles []Style) *Catalog {
	m := make(map[string]Style, len(styles))
	for _, s := range styles {
		m[s.ID] = s
	}
	return &Catalog{styles: m}
}

// Style returns the style by id; ok is false for unknown ids.
func (c *Catalog) Style(id string) (Style, bool) {
	s, ok := c.styles[id]
	return s, ok
}

// Default returns the built-in production catalog.
func Default() *Catalog {
	return New([]Style{
		{
			ID:           "business",
			Title:        "Business portraits",
			PromptPrefix: "professional studio photo of the person, ",
			PromptSuffix: ", photorealistic, 85mm lens, high detail",
			Prompts: []string{
				"wearing a tailored navy suit in a modern office",
				"seated at a conference table, soft window light",
				"standing in front of a glass skyscraper at dusk",
				"arms crossed against a neutral gray backdrop",
				"holding a laptop in a bright coworking space",
				"speaking on stage at a tech conference",
				"portrait with city skyline bokeh in the background",
				"reading documents at a mahogany desk",
				"black turtleneck, minimalist white studio",
				"walking through a marble lobby, confident stride",
				"leaning on a balcony railing above the city",
				"close-up portrait with subtle rim lighting",
				"at a whiteboard mid-presentation",
				"seated in a leather armchair, warm lamp light",
				"adjusting cufflinks, shallow depth of field",
				"standing by floor-to-ceiling windows at sunrise",
				"coffee in hand at a streetside cafe table",
				"headshot against a dark charcoal background",
				"in an elevator with brushed steel doors",
				"crossing a pedestrian bridge in business attire",
				"portrait under soft umbrella lighting",
				"signing papers at a glass desk",
				"smiling portrait in a sunlit atrium",
			},
		},
		{
			ID:           "fantasy",
			Title:        "Fantasy worlds",
			PromptPrefix: "epic fantasy painting of the person, ",
			PromptSuffix: ", dramatic lighting, intricate detail, artstation",
			Prompts: []string{
				"as an elven ranger in a misty ancient forest",
				"wearing ornate silver armor on a mountain pass",
				"as a mage casting glowing runes in a library",
				"riding a dragon above storm clouds",
				"as a royal figure on an obsidian throne",
				"wandering a bioluminescent mushroom grove",
				"as a pirate captain on a ghost ship deck",
				"in a snow-covered citadel courtyard",
				"holding a flaming sword at a castle gate",
				"as a druid surrounded by forest spirits",
				"beneath twin moons in a desert of glass",
				"as a knight kneeling in a ruined cathedral",
				"crossing a rope bridge over a lava chasm",
				"as an alchemist in a candlelit workshop",
				"standing before a portal of swirling light",
			},
		},
		{
			ID:           "travel",
			Title:        "Travel postcards",
			PromptPrefix: "candid travel photo of the person, ",
			PromptSuffix: ", golden hour, 35mm film grain",
			Prompts: []string{
				"on a Venetian gondola at sunset",
				"hiking a ridge above the fjords",
				"at a Tokyo crossing under neon signs",
				"on a Santorini rooftop overlooking the caldera",
				"riding a scooter through old-town Hanoi",
				"at a Moroccan spice market stall",
				"on a surfboard at a Bali beach break",
				"beside a campfire under desert stars",
				"in a Parisian cafe with a croissant",
				"on a snowy peak with climbing gear",
				"walking a lavender field in Provence",
				"at the rim of a turquoise crater lake",
			},
		},
	})
}
