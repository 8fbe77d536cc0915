package memworld

import (
	"testing"

	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/entity"
	"layerforge.ai/internal/sim/geom"
)

var protos = &catalogs.Builtin().Prototypes

func mk(name string, x, y float64, dir geom.Direction) *entity.Entity {
	return entity.New(name, geom.Pos(x, y), dir).Normalize(protos)
}

func TestBuildRejectsCollision(t *testing.T) {
	w := New(protos)
	if _, err := w.Build("nauvis", mk("assembling-machine-1", 1.5, 1.5, geom.North)); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := w.Build("nauvis", mk("inserter", 2.5, 2.5, geom.North)); err == nil {
		t.Fatalf("expected collision")
	}
	if _, err := w.Build("other", mk("inserter", 2.5, 2.5, geom.North)); err != nil {
		t.Fatalf("surfaces are independent: %v", err)
	}
}

func TestPasteRevivesAndAppliesRequests(t *testing.T) {
	w := New(protos)
	am := mk("assembling-machine-2", 1.5, 1.5, geom.North)
	am.Items = map[string]int{"speed-module": 2}
	placed := w.PasteBlueprint("nauvis", geom.Pos(10, 10), []*entity.Entity{am}, nil)
	if len(placed) != 1 {
		t.Fatalf("placed=%d", len(placed))
	}
	h := placed[0].(*Entity)
	if h.Ghost() {
		t.Fatalf("expected revived entity")
	}
	if !h.Position().Equals(geom.Pos(11.5, 11.5)) {
		t.Fatalf("position=%v", h.Position())
	}
	if h.Items()["speed-module"] != 2 || len(h.Requests()) != 0 {
		t.Fatalf("items=%v requests=%v", h.Items(), h.Requests())
	}
}

func TestPasteRetriesRevivalOnce(t *testing.T) {
	w := New(protos)
	w.ReviveFailures["inserter"] = 1
	placed := w.PasteBlueprint("nauvis", geom.Position{}, []*entity.Entity{mk("inserter", 0.5, 0.5, geom.North)}, nil)
	if len(placed) != 1 || placed[0].(*Entity).Ghost() {
		t.Fatalf("expected revival on retry")
	}

	w.ReviveFailures["inserter"] = 2
	placed = w.PasteBlueprint("nauvis", geom.Position{}, []*entity.Entity{mk("inserter", 1.5, 0.5, geom.North)}, nil)
	if len(placed) != 1 || !placed[0].(*Entity).Ghost() {
		t.Fatalf("expected pending ghost after two failures")
	}
}

func TestPasteOverCompatible(t *testing.T) {
	w := New(protos)
	base, _ := w.Build("nauvis", mk("assembling-machine-1", 1.5, 1.5, geom.North))

	same := mk("assembling-machine-1", 1.5, 1.5, geom.North)
	same.SetProp("recipe", "iron-gear-wheel")
	if placed := w.PasteBlueprint("nauvis", geom.Position{}, []*entity.Entity{same}, nil); len(placed) != 0 {
		t.Fatalf("settings paste should not place: %d", len(placed))
	}
	if v, _ := base.Prop("recipe"); v != "iron-gear-wheel" {
		t.Fatalf("recipe=%v", v)
	}

	upgrade := mk("assembling-machine-2", 1.5, 1.5, geom.North)
	if placed := w.PasteBlueprint("nauvis", geom.Position{}, []*entity.Entity{upgrade}, nil); len(placed) != 0 {
		t.Fatalf("paste must not fast replace")
	}
	if w.Find("nauvis", "assembling-machine-1", geom.Pos(1.5, 1.5)) != base {
		t.Fatalf("base entity replaced")
	}
}

func TestPasteClip(t *testing.T) {
	w := New(protos)
	clip := geom.BBox(0, 0, 2, 2)
	ents := []*entity.Entity{mk("inserter", 0.5, 0.5, geom.North), mk("inserter", 2.5, 0.5, geom.North)}
	if placed := w.PasteBlueprint("nauvis", geom.Position{}, ents, &clip); len(placed) != 1 {
		t.Fatalf("placed=%d", len(placed))
	}
}

func TestUndergroundAutoFlip(t *testing.T) {
	w := New(protos)
	in := mk("underground-belt", 0.5, 0.5, geom.East)
	in.SetProp("type", "input")
	if _, err := w.Build("nauvis", in); err != nil {
		t.Fatal(err)
	}
	out := mk("underground-belt", 1.5, 0.5, geom.West)
	out.SetProp("type", "output")
	placed := w.PasteBlueprint("nauvis", geom.Position{}, []*entity.Entity{out}, nil)
	if len(placed) != 1 {
		t.Fatalf("placed=%d", len(placed))
	}
	if placed[0].Direction() != geom.East {
		t.Fatalf("direction=%v", placed[0].Direction())
	}
	if v, _ := placed[0].(*Entity).Prop("type"); v != "input" {
		t.Fatalf("type=%v", v)
	}
}

func TestTryFastReplace(t *testing.T) {
	w := New(protos)
	old, _ := w.Build("nauvis", mk("assembling-machine-1", 1.5, 1.5, geom.North))
	old.State().SetProp("recipe", "copper-cable")

	if _, ok := w.TryFastReplace("nauvis", mk("assembling-machine-1", 1.5, 1.5, geom.North), "oil-refinery"); ok {
		t.Fatalf("different group must be refused")
	}
	h, ok := w.TryFastReplace("nauvis", mk("assembling-machine-1", 1.5, 1.5, geom.North), "assembling-machine-3")
	if !ok {
		t.Fatalf("fast replace refused")
	}
	if old.Valid() || !h.Valid() {
		t.Fatalf("old valid=%v new valid=%v", old.Valid(), h.Valid())
	}
	if v, _ := h.(*Entity).Prop("recipe"); v != "copper-cable" {
		t.Fatalf("recipe lost: %v", v)
	}
	if w.Find("nauvis", "assembling-machine-3", geom.Pos(1.5, 1.5)) == nil {
		t.Fatalf("replacement missing")
	}
}

func TestTakeBlueprintRelativeSortedWithWires(t *testing.T) {
	w := New(protos)
	a, _ := w.Build("nauvis", mk("small-lamp", 12.5, 11.5, geom.North))
	b, _ := w.Build("nauvis", mk("constant-combinator", 10.5, 10.5, geom.North))
	c, _ := w.Build("nauvis", mk("small-lamp", 30.5, 30.5, geom.North))
	w.Connect(a, b, entity.WireRed)
	w.Connect(a, c, entity.WireGreen)

	got := w.TakeBlueprint("nauvis", geom.BBox(10, 10, 20, 20), geom.Pos(10, 10))
	if len(got) != 2 {
		t.Fatalf("len=%d", len(got))
	}
	if got[0].Name != "constant-combinator" || !got[0].Position.Equals(geom.Pos(0.5, 0.5)) || got[0].EntityNumber != 1 {
		t.Fatalf("first=%v", got[0])
	}
	if !got[1].Connections.Has("1", entity.WireRed, entity.ConnectionData{EntityID: 1, CircuitID: 1}) {
		t.Fatalf("wire not remapped: %+v", got[1].Connections)
	}
	if ids := got[1].Connections.EntityIDs(); len(ids) != 1 {
		t.Fatalf("wire outside area kept: %v", ids)
	}
}

func TestClearAndMarkers(t *testing.T) {
	w := New(protos)
	w.Build("nauvis", mk("inserter", 0.5, 0.5, geom.North))
	m := w.CreateOverlapMarker("nauvis", mk("inserter", 0.5, 0.5, geom.East))
	if !m.Valid() || len(w.Markers("nauvis", geom.BBox(0, 0, 1, 1))) != 1 {
		t.Fatalf("marker not placed")
	}
	if len(w.Entities("nauvis", geom.BBox(0, 0, 1, 1))) != 1 {
		t.Fatalf("marker must not count as entity")
	}
	w.ClearBuildableEntities("nauvis", geom.BBox(0, 0, 1, 1))
	if m.Valid() || len(w.Entities("nauvis", geom.BBox(0, 0, 1, 1))) != 0 {
		t.Fatalf("area not cleared")
	}
}

func TestLockedRefusesFastReplace(t *testing.T) {
	w := New(protos)
	old, _ := w.Build("nauvis", mk("inserter", 0.5, 0.5, geom.North))
	w.Lock(old)
	if _, ok := w.TryFastReplace("nauvis", mk("inserter", 0.5, 0.5, geom.North), "fast-inserter"); ok {
		t.Fatalf("locked entity replaced")
	}
	if !old.Valid() {
		t.Fatalf("locked entity invalidated")
	}
}
