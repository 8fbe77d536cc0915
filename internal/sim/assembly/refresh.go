package assembly

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"layerforge.ai/internal/protocol"
	"layerforge.ai/internal/sim/blueprint"
	"layerforge.ai/internal/sim/diagnostics"
	"layerforge.ai/internal/sim/diff"
	"layerforge.ai/internal/sim/paste"
	"layerforge.ai/internal/sim/sourcemap"
)

// RefreshRecord is the sink form of a refresh.
type RefreshRecord struct {
	AssemblyID  string                         `json:"assembly_id"`
	Name        string                         `json:"name"`
	Surface     string                         `json:"surface"`
	Seq         uint64                         `json:"seq"`
	At          time.Time                      `json:"at"`
	DurationMS  float64                        `json:"duration_ms"`
	Layers      int                            `json:"layers"`
	Placed      int                            `json:"placed"`
	Counts      map[diagnostics.CategoryID]int `json:"counts,omitempty"`
	Diagnostics diagnostics.Collection         `json:"diagnostics,omitempty"`
}

// Refresh rebuilds an assembly from scratch: the area is cleared, every
// import is pasted in list order, then the own contents. Each layer is
// checked against everything pasted before it.
func (m *Manager) Refresh(id uuid.UUID) (*RefreshResult, error) {
	a, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	start := m.now()
	m.world.ClearBuildableEntities(a.Surface, a.Area)

	var (
		existing  = blueprint.NewPartial()
		sources   = sourcemap.NewBuilder()
		conflicts paste.Conflicts
		res       = &RefreshResult{Seq: a.RefreshSeq + 1, At: start}
	)
	for _, imp := range a.Imports {
		src, ok := m.assemblies[imp.SourceID]
		if !ok {
			m.logger.Printf("assembly %s: skipping import of missing assembly %s", a.ID, imp.SourceID)
			continue
		}
		content, err := m.contentOf(src)
		if err != nil {
			return nil, err
		}
		pr, err := m.detector.PasteAndDetect(paste.Request{
			Surface:  a.Surface,
			Area:     a.Area,
			Existing: existing,
			Content:  content,
			PasteAt:  src.Area.ShiftToOrigin().Shift(imp.RelativePosition),
		})
		if err != nil {
			return nil, fmt.Errorf("assembly %q: import %q: %w", a.Name, src.Name, err)
		}
		conflicts.Merge(pr.Conflicts)
		res.Placed += len(pr.Placed)
		res.Layers++
		sources.Add(content.Entities(), sourcemap.Location{Surface: src.Surface, Area: src.Area}, a.Area.LeftTop.Add(imp.RelativePosition))
	}

	below, err := m.contentOf(a)
	if err != nil {
		return nil, err
	}
	a.below = below

	if a.OwnContents != nil && a.OwnContents.Len() > 0 {
		pr, err := m.detector.PasteAndDetect(paste.Request{
			Surface:  a.Surface,
			Area:     a.Area,
			Existing: existing,
			Content:  a.OwnContents,
			PasteAt:  a.Area.ShiftToOrigin(),
		})
		if err != nil {
			return nil, fmt.Errorf("assembly %q: own contents: %w", a.Name, err)
		}
		conflicts.Merge(pr.Conflicts)
		res.Placed += len(pr.Placed)
		res.Layers++
	}

	res.Composited = len(existing.Entities())
	res.Conflicts = conflicts
	res.Diagnostics = diagnostics.Map(conflicts, a.Surface, a.Area.LeftTop, sources.Build())
	res.Duration = m.now().Sub(start)
	a.RefreshSeq = res.Seq
	a.LastResult = res

	m.logger.Printf("assembly refreshed id=%s seq=%d layers=%d placed=%d composited=%d diagnostics=%d in %s",
		a.ID, res.Seq, res.Layers, res.Placed, res.Composited, res.Diagnostics.Count(), res.Duration)
	m.bus.Publish(Event{Kind: EventRefreshed, AssemblyID: a.ID, Seq: res.Seq, Diagnostics: res.Diagnostics})
	if m.sink != nil {
		if err := m.sink.WriteRefresh(recordOf(a, res)); err != nil {
			m.logger.Printf("refresh sink: %v", err)
		}
	}
	return res, nil
}

// RefreshAll refreshes every assembly with sources before importers.
func (m *Manager) RefreshAll() error {
	for _, a := range m.dependencyOrder() {
		if _, err := m.Refresh(a.ID); err != nil {
			return err
		}
	}
	return nil
}

// Reset discards unsaved edits by rebuilding the assembly.
func (m *Manager) Reset(id uuid.UUID) (*RefreshResult, error) {
	return m.Refresh(id)
}

// Diff returns the unsaved edits of an assembly relative to its imports.
func (m *Manager) Diff(id uuid.UUID) (*diff.Diff, error) {
	a, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	below := a.below
	if below == nil {
		if len(a.Imports) > 0 {
			return nil, userErr(protocol.ErrNotRefreshed, "assembly %q has not been refreshed", a.Name)
		}
		below = blueprint.NewEntities()
	}
	current, err := m.contentOf(a)
	if err != nil {
		return nil, err
	}
	d, err := diff.Compute(below, current)
	if err != nil {
		return nil, fmt.Errorf("assembly %q: %w", a.Name, err)
	}
	return d, nil
}

// Save stores the current edits of an assembly as its own contents.
// Deleting imported entities cannot be expressed as a paste; such
// deletions are counted in the stats but not kept.
func (m *Manager) Save(id uuid.UUID) (*diff.Diff, error) {
	d, err := m.Diff(id)
	if err != nil {
		return nil, err
	}
	a := m.assemblies[id]
	a.OwnContents = d.Content
	stats := d.Stats()
	m.logger.Printf("assembly saved id=%s references=%d changed=%d added=%d deleted=%d",
		a.ID, stats.References, stats.Changed, stats.Added, stats.Deleted)
	m.bus.Publish(Event{Kind: EventSaved, AssemblyID: a.ID, Seq: a.RefreshSeq, Stats: stats})
	return d, nil
}

// contentOf reads the live content of a, relative to its top-left.
func (m *Manager) contentOf(a *Assembly) (*blueprint.Entities, error) {
	entities := m.world.TakeBlueprint(a.Surface, a.Area, a.Area.LeftTop)
	for _, e := range entities {
		e.Normalize(m.protos)
	}
	bp, err := blueprint.FromEntities(entities)
	if err != nil {
		return nil, fmt.Errorf("assembly %q: read content: %w", a.Name, err)
	}
	return bp, nil
}

func recordOf(a *Assembly, res *RefreshResult) RefreshRecord {
	counts := map[diagnostics.CategoryID]int{}
	for id, ds := range res.Diagnostics {
		counts[id] = len(ds)
	}
	return RefreshRecord{
		AssemblyID:  a.ID.String(),
		Name:        a.Name,
		Surface:     a.Surface,
		Seq:         res.Seq,
		At:          res.At,
		DurationMS:  float64(res.Duration.Microseconds()) / 1000,
		Layers:      res.Layers,
		Placed:      res.Placed,
		Counts:      counts,
		Diagnostics: res.Diagnostics,
	}
}
