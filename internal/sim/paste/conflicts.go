package paste

import "layerforge.ai/internal/sim/entity"

// Pair relates pasted content (Above) to what it landed on (Below). Both
// are in target-relative coordinates. Below may be nil for overlaps with
// nothing indexed underneath.
type Pair struct {
	Below *entity.Entity `json:"below,omitempty"`
	Above *entity.Entity `json:"above"`
}

type PropConflict struct {
	Below *entity.Entity `json:"below"`
	Above *entity.Entity `json:"above"`
	Prop  string         `json:"prop"`
}

// Conflicts is the outcome of pasting one layer. A nil list means no
// conflicts of that kind.
type Conflicts struct {
	Overlaps            []Pair           `json:"overlaps,omitempty"`
	Upgrades            []Pair           `json:"upgrades,omitempty"`
	ItemRequestChanges  []Pair           `json:"item_request_changes,omitempty"`
	UnsupportedProps    []PropConflict   `json:"unsupported_props,omitempty"`
	LostReferences      []*entity.Entity `json:"lost_references,omitempty"`
	FlippedUndergrounds []*entity.Entity `json:"flipped_undergrounds,omitempty"`
}

func (c Conflicts) IsEmpty() bool {
	return len(c.Overlaps) == 0 && len(c.Upgrades) == 0 && len(c.ItemRequestChanges) == 0 &&
		len(c.UnsupportedProps) == 0 && len(c.LostReferences) == 0 && len(c.FlippedUndergrounds) == 0
}

// Count returns the total number of conflict records.
func (c Conflicts) Count() int {
	return len(c.Overlaps) + len(c.Upgrades) + len(c.ItemRequestChanges) +
		len(c.UnsupportedProps) + len(c.LostReferences) + len(c.FlippedUndergrounds)
}

// Merge appends other's records to c.
func (c *Conflicts) Merge(other Conflicts) {
	c.Overlaps = append(c.Overlaps, other.Overlaps...)
	c.Upgrades = append(c.Upgrades, other.Upgrades...)
	c.ItemRequestChanges = append(c.ItemRequestChanges, other.ItemRequestChanges...)
	c.UnsupportedProps = append(c.UnsupportedProps, other.UnsupportedProps...)
	c.LostReferences = append(c.LostReferences, other.LostReferences...)
	c.FlippedUndergrounds = append(c.FlippedUndergrounds, other.FlippedUndergrounds...)
}
