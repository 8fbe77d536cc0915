package entity

// MergeResult reports what pasting incoming onto an existing entity needs
// beyond a plain settings paste.
type MergeResult struct {
	// Upgraded is set when the name differs; the caller must fast-replace.
	Upgraded bool
	// ItemsChanged is set when item requests differ. Items are never
	// overwritten by a paste.
	ItemsChanged bool
	// UnsupportedProp names the first differing prop the paste model does
	// not know how to apply.
	UnsupportedProp string
}

// Merge applies incoming onto existing. A reference incoming is first
// filled from existing: every prop outside ChangedProps is copied over, and
// props existing lacks that are neither pasteable nor changed are dropped.
// Only changed props are then checked. A plain incoming is checked on every
// prop. An unsupported prop stops the merge: existing is left untouched and
// the result carries nothing else. Otherwise the pasteable props of
// incoming are written to existing.
func Merge(existing, incoming *Entity) MergeResult {
	if incoming.IsReference() {
		fillReference(existing, incoming)
	}
	if p := unsupportedProp(existing, incoming); p != "" {
		return MergeResult{UnsupportedProp: p}
	}
	var res MergeResult
	if incoming.IsReference() {
		res.Upgraded = incoming.ChangedProps.Has(PropName) && incoming.Name != existing.Name
		res.ItemsChanged = incoming.ChangedProps.Has(PropItems) && !ItemsEqual(incoming.Items, existing.Items)
	} else {
		res.Upgraded = incoming.Name != existing.Name
		res.ItemsChanged = !ItemsEqual(incoming.Items, existing.Items)
	}
	applyPasteable(existing, incoming)
	return res
}

// unsupportedProp returns the first prop incoming would change that the
// paste model cannot apply.
func unsupportedProp(existing, incoming *Entity) string {
	if incoming.IsReference() {
		for _, p := range incoming.ChangedProps.Keys() {
			if p == PropName || p == PropItems || PasteableProps.Has(p) || IgnoredProps.Has(p) {
				continue
			}
			return p
		}
		return ""
	}
	for _, p := range unionProps(existing, incoming) {
		if !IsKnownProp(p) && !PropEqual(existing, incoming, p) {
			return p
		}
	}
	return ""
}

func fillReference(existing, ref *Entity) {
	renamed := false
	for _, p := range existing.PropNames() {
		if ref.ChangedProps.Has(p) {
			continue
		}
		v, _ := existing.Prop(p)
		ref.SetProp(p, v)
		if p == PropName {
			renamed = true
		}
	}
	for _, p := range ref.PropNames() {
		if p == PropName || ref.ChangedProps.Has(p) || PasteableProps.Has(p) {
			continue
		}
		if _, ok := existing.Prop(p); ok {
			continue
		}
		ref.DeleteProp(p)
	}
	if renamed {
		ref.AdoptKind(existing)
	}
}

func applyPasteable(existing, incoming *Entity) {
	for _, p := range unionProps(existing, incoming) {
		if !PasteableProps.Has(p) || p == PropDirection {
			continue
		}
		if v, ok := incoming.Prop(p); ok {
			existing.SetProp(p, v)
		} else {
			existing.DeleteProp(p)
		}
	}
	if existing.Kind().RotationPasteable && existing.Direction != incoming.Direction {
		existing.SetDirection(incoming.Direction)
	}
}

func unionProps(a, b *Entity) []string {
	seen := NewPropSet(a.PropNames()...)
	out := a.PropNames()
	for _, p := range b.PropNames() {
		if !seen.Has(p) {
			seen.Add(p)
			out = append(out, p)
		}
	}
	return out
}
