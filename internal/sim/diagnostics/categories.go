package diagnostics

import (
	"strconv"
	"strings"
)

type CategoryID string

const (
	Overlap            CategoryID = "overlap"
	CannotUpgrade      CategoryID = "cannot-upgrade"
	ItemsIgnored       CategoryID = "items-ignored"
	UnsupportedProp    CategoryID = "unsupported-prop"
	FlippedUnderground CategoryID = "flipped-underground"
	LostReference      CategoryID = "lost-reference"
)

// Highlight is the box style a client draws around a location.
type Highlight string

const (
	HighlightError   Highlight = "not-allowed"
	HighlightWarning Highlight = "pair"
	HighlightInfo    Highlight = "copy"
)

type Category struct {
	ID         CategoryID `json:"id"`
	MessageKey string     `json:"message_key"`
	Highlight  Highlight  `json:"highlight"`
}

// Categories in display order.
var Categories = []Category{
	{ID: Overlap, MessageKey: "diagnostics.overlap", Highlight: HighlightError},
	{ID: CannotUpgrade, MessageKey: "diagnostics.cannot-upgrade", Highlight: HighlightWarning},
	{ID: UnsupportedProp, MessageKey: "diagnostics.unsupported-prop", Highlight: HighlightError},
	{ID: ItemsIgnored, MessageKey: "diagnostics.items-ignored", Highlight: HighlightInfo},
	{ID: FlippedUnderground, MessageKey: "diagnostics.flipped-underground", Highlight: HighlightWarning},
	{ID: LostReference, MessageKey: "diagnostics.lost-reference", Highlight: HighlightWarning},
}

func CategoryByID(id CategoryID) (Category, bool) {
	for _, c := range Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// Message is a localisable message: a template key plus positional
// parameters substituted for __1__, __2__, ...
type Message struct {
	Key    string   `json:"key"`
	Params []string `json:"params,omitempty"`
}

var templates = map[string]string{
	"diagnostics.overlap":             "__1__ overlaps __2__ and was not pasted",
	"diagnostics.overlap.unknown":     "__1__ overlaps an existing entity and was not pasted",
	"diagnostics.cannot-upgrade":      "__2__ was upgraded to __1__ by a higher layer; upgrade it at its source",
	"diagnostics.unsupported-prop":    "__2__ has a setting (__1__) that cannot be pasted",
	"diagnostics.items-ignored":       "Item requests of __1__ differ from the layer below and were not applied",
	"diagnostics.flipped-underground": "__1__ was flipped to pair with a neighbouring underground",
	"diagnostics.lost-reference":      "__1__ no longer matches the entity it was saved against; its changes were pasted as a new entity",
}

// Render formats m with the built-in English templates. Unknown keys
// render as the key followed by the parameters.
func (m Message) Render() string {
	tpl, ok := templates[m.Key]
	if !ok {
		if len(m.Params) == 0 {
			return m.Key
		}
		return m.Key + ": " + strings.Join(m.Params, ", ")
	}
	pairs := make([]string, 0, 2*len(m.Params))
	for i, p := range m.Params {
		pairs = append(pairs, "__"+strconv.Itoa(i+1)+"__", p)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
