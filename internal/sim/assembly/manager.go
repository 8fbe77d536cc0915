package assembly

import (
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"layerforge.ai/internal/protocol"
	"layerforge.ai/internal/sim/blueprint"
	"layerforge.ai/internal/sim/entity"
	"layerforge.ai/internal/sim/geom"
	"layerforge.ai/internal/sim/paste"
)

// Config limits what users may create. Zero means unlimited.
type Config struct {
	MaxAssemblies int
	MaxImports    int
	MaxAreaTiles  int
}

// Sink receives one record per refresh.
type Sink interface {
	WriteRefresh(RefreshRecord) error
}

// Sinks fans a record out to every sink and joins their errors.
type Sinks []Sink

func (ss Sinks) WriteRefresh(r RefreshRecord) error {
	var errs []error
	for _, s := range ss {
		if s == nil {
			continue
		}
		if err := s.WriteRefresh(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Manager owns every assembly of a session and the world they live in.
// It is not safe for concurrent use; the engine loop serializes access.
type Manager struct {
	world    paste.World
	protos   entity.Prototypes
	detector *paste.Detector
	cfg      Config
	logger   *log.Logger
	bus      *EventBus
	sink     Sink
	now      func() time.Time

	assemblies map[uuid.UUID]*Assembly
	order      []uuid.UUID
}

func NewManager(w paste.World, protos entity.Prototypes, cfg Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		world:      w,
		protos:     protos,
		detector:   paste.NewDetector(w, protos),
		cfg:        cfg,
		logger:     logger,
		bus:        NewEventBus(),
		now:        time.Now,
		assemblies: map[uuid.UUID]*Assembly{},
	}
}

func (m *Manager) Bus() *EventBus { return m.bus }

func (m *Manager) Prototypes() entity.Prototypes { return m.protos }

func (m *Manager) SetSink(s Sink) { m.sink = s }

func (m *Manager) Create(name, surface string, area geom.BoundingBox) (*Assembly, error) {
	name = strings.TrimSpace(name)
	surface = strings.TrimSpace(surface)
	if name == "" || surface == "" {
		return nil, userErr(protocol.ErrBadRequest, "name and surface are required")
	}
	area = area.Normalize().RoundTile()
	if area.IsEmpty() {
		return nil, userErr(protocol.ErrBadRequest, "area %v is empty", area)
	}
	if tiles := int(area.Width() * area.Height()); m.cfg.MaxAreaTiles > 0 && tiles > m.cfg.MaxAreaTiles {
		return nil, userErr(protocol.ErrLimit, "area has %d tiles, limit is %d", tiles, m.cfg.MaxAreaTiles)
	}
	if m.cfg.MaxAssemblies > 0 && len(m.assemblies) >= m.cfg.MaxAssemblies {
		return nil, userErr(protocol.ErrLimit, "assembly limit %d reached", m.cfg.MaxAssemblies)
	}
	for _, id := range m.order {
		o := m.assemblies[id]
		if o.Surface == surface && o.Area.IntersectsNonZeroArea(area) {
			return nil, userErr(protocol.ErrAreaTaken, "area overlaps assembly %q", o.Name)
		}
	}
	a := &Assembly{
		ID:          uuid.New(),
		Name:        name,
		Surface:     surface,
		Area:        area,
		OwnContents: blueprint.NewEntities(),
	}
	m.add(a)
	m.logger.Printf("assembly created id=%s name=%q surface=%s area=%v", a.ID, a.Name, a.Surface, a.Area)
	m.bus.Publish(Event{Kind: EventCreated, AssemblyID: a.ID})
	return a, nil
}

func (m *Manager) add(a *Assembly) {
	m.assemblies[a.ID] = a
	m.order = append(m.order, a.ID)
}

func (m *Manager) Get(id uuid.UUID) (*Assembly, error) {
	a, ok := m.assemblies[id]
	if !ok {
		return nil, userErr(protocol.ErrNotFound, "no assembly %s", id)
	}
	return a, nil
}

// List returns assemblies in creation order.
func (m *Manager) List() []*Assembly {
	out := make([]*Assembly, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.assemblies[id])
	}
	return out
}

// Delete forgets an assembly. Its entities stay in the world.
func (m *Manager) Delete(id uuid.UUID) error {
	a, err := m.Get(id)
	if err != nil {
		return err
	}
	for _, oid := range m.order {
		for _, imp := range m.assemblies[oid].Imports {
			if imp.SourceID == id {
				return userErr(protocol.ErrInUse, "assembly %q is imported by %q", a.Name, m.assemblies[oid].Name)
			}
		}
	}
	delete(m.assemblies, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.logger.Printf("assembly deleted id=%s name=%q", a.ID, a.Name)
	m.bus.Publish(Event{Kind: EventDeleted, AssemblyID: id})
	return nil
}

func (m *Manager) AddImport(targetID, sourceID uuid.UUID, rel geom.Position) error {
	target, err := m.Get(targetID)
	if err != nil {
		return err
	}
	source, err := m.Get(sourceID)
	if err != nil {
		return err
	}
	if targetID == sourceID {
		return userErr(protocol.ErrSelfImport, "assembly %q cannot import itself", target.Name)
	}
	if m.cfg.MaxImports > 0 && len(target.Imports) >= m.cfg.MaxImports {
		return userErr(protocol.ErrLimit, "import limit %d reached", m.cfg.MaxImports)
	}
	if m.imports(sourceID, targetID) {
		return userErr(protocol.ErrImportCycle, "%q already imports %q", source.Name, target.Name)
	}
	placed := source.Area.ShiftToOrigin().Shift(rel)
	if placed.Intersect(target.Area.ShiftToOrigin()).IsEmpty() {
		return userErr(protocol.ErrNoOverlap, "import of %q at %v does not overlap %q", source.Name, rel, target.Name)
	}
	target.Imports = append(target.Imports, Import{SourceID: sourceID, RelativePosition: rel})
	m.bus.Publish(Event{Kind: EventImportsChanged, AssemblyID: targetID})
	return nil
}

func (m *Manager) RemoveImport(targetID uuid.UUID, index int) error {
	target, err := m.Get(targetID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(target.Imports) {
		return userErr(protocol.ErrBadRequest, "import index %d out of range", index)
	}
	target.Imports = append(target.Imports[:index], target.Imports[index+1:]...)
	m.bus.Publish(Event{Kind: EventImportsChanged, AssemblyID: targetID})
	return nil
}

// imports reports whether from imports to, directly or through other
// assemblies.
func (m *Manager) imports(from, to uuid.UUID) bool {
	seen := map[uuid.UUID]struct{}{}
	stack := []uuid.UUID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if a, ok := m.assemblies[id]; ok {
			for _, imp := range a.Imports {
				stack = append(stack, imp.SourceID)
			}
		}
	}
	return false
}

// dependencyOrder lists assemblies so that every source precedes its
// importers.
func (m *Manager) dependencyOrder() []*Assembly {
	var out []*Assembly
	state := map[uuid.UUID]int{}
	var visit func(id uuid.UUID)
	visit = func(id uuid.UUID) {
		if state[id] != 0 {
			return
		}
		state[id] = 1
		a, ok := m.assemblies[id]
		if !ok {
			return
		}
		for _, imp := range a.Imports {
			visit(imp.SourceID)
		}
		state[id] = 2
		out = append(out, a)
	}
	for _, id := range m.order {
		visit(id)
	}
	return out
}
