package blueprint

import (
	"errors"
	"testing"

	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/entity"
	"layerforge.ai/internal/sim/geom"
)

var protos = &catalogs.Builtin().Prototypes

func mk(name string, x, y float64, dir geom.Direction) *entity.Entity {
	return entity.New(name, geom.Pos(x, y), dir).Normalize(protos)
}

func TestAddSingle_FootprintCoverage(t *testing.T) {
	bp := NewEntities()
	am := bp.AddSingle(mk("assembling-machine-1", 1.5, 1.5, geom.North))
	ins := bp.AddSingle(mk("inserter", 3.5, 1.5, geom.East))
	if am.EntityNumber != 1 || ins.EntityNumber != 2 {
		t.Fatalf("numbers=%d,%d", am.EntityNumber, ins.EntityNumber)
	}
	if err := bp.CheckIndex(); err != nil {
		t.Fatalf("CheckIndex: %v", err)
	}
	for _, e := range bp.Entities() {
		box := e.TileBox()
		box.ForEachTile(func(tile geom.Tile) bool {
			found := false
			for _, x := range bp.GetAtPos(float64(tile.X)+0.5, float64(tile.Y)+0.5) {
				if x == e {
					found = true
				}
			}
			if !found {
				t.Fatalf("%v not found at %v", e, tile)
			}
			return true
		})
		// A ring of tiles around the footprint must not report e.
		grown := geom.BBox(box.LeftTop.X-1, box.LeftTop.Y-1, box.RightBottom.X+1, box.RightBottom.Y+1)
		grown.ForEachTile(func(tile geom.Tile) bool {
			if box.Contains(tile.Position()) {
				return true
			}
			for _, x := range bp.GetAt(tile.Position()) {
				if x == e {
					t.Fatalf("%v reported outside footprint at %v", e, tile)
				}
			}
			return true
		})
	}
}

func TestGetInBox(t *testing.T) {
	bp := NewEntities()
	am := bp.AddSingle(mk("assembling-machine-1", 1.5, 1.5, geom.North))
	ins := bp.AddSingle(mk("inserter", 3.5, 1.5, geom.East))
	bp.AddSingle(mk("iron-chest", 8.5, 8.5, geom.North))

	cases := []struct {
		name string
		box  geom.BoundingBox
		want []*entity.Entity
	}{
		{"corner of footprint", geom.BBox(2, 2, 3, 3), []*entity.Entity{am}},
		{"spans two", geom.BBox(2, 1, 4, 2), []*entity.Entity{am, ins}},
		{"empty", geom.BBox(5, 5, 7, 7), nil},
	}
	for _, tc := range cases {
		got := bp.GetInBox(tc.box)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %v", tc.name, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: got %v", tc.name, got)
			}
		}
	}
}

func TestGetAt_SupportsOverlap(t *testing.T) {
	bp := NewEntities()
	a := bp.AddSingle(mk("inserter", 0.5, 0.5, geom.North))
	b := bp.AddSingle(mk("inserter", 0.5, 0.5, geom.East))
	got := bp.GetAt(geom.Pos(0.2, 0.9))
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("GetAt=%v", got)
	}
	if got := bp.GetAtPos(5, 5); got != nil {
		t.Fatalf("expected empty tile, got %v", got)
	}
}

func TestReplaceAndRemove_IdentityPrecondition(t *testing.T) {
	bp := NewEntities()
	a := bp.AddSingle(mk("inserter", 0.5, 0.5, geom.North))
	imposter := a.Clone()
	if _, err := bp.Remove(imposter); !errors.Is(err, ErrNotInBlueprint) {
		t.Fatalf("expected ErrNotInBlueprint, got %v", err)
	}
	if _, err := bp.ReplaceUnsafe(imposter, mk("fast-inserter", 0.5, 0.5, geom.North)); !errors.Is(err, ErrNotInBlueprint) {
		t.Fatalf("expected ErrNotInBlueprint, got %v", err)
	}

	big := mk("assembling-machine-2", 1.5, 1.5, geom.North)
	got, err := bp.ReplaceUnsafe(a, big)
	if err != nil {
		t.Fatalf("ReplaceUnsafe: %v", err)
	}
	if got.EntityNumber != 1 || bp.Len() != 1 {
		t.Fatalf("replace kept number=%d len=%d", got.EntityNumber, bp.Len())
	}
	if len(bp.GetAtPos(2.5, 2.5)) != 1 {
		t.Fatalf("replacement not indexed")
	}
	if err := bp.CheckIndex(); err != nil {
		t.Fatalf("CheckIndex: %v", err)
	}
	if _, err := bp.Remove(big); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if bp.Len() != 0 || len(bp.byTile) != 0 {
		t.Fatalf("index not pruned: %d tiles", len(bp.byTile))
	}
}

func TestSortEntities_RemapsConnections(t *testing.T) {
	bp := NewEntities()
	lower := bp.AddSingle(mk("constant-combinator", 0.5, 5.5, geom.North))
	upper := bp.AddSingle(mk("small-electric-pole", 3.5, 0.5, geom.North))
	lower.Connections.Add("1", entity.WireRed, entity.ConnectionData{EntityID: upper.EntityNumber})
	upper.Connections.Add("1", entity.WireRed, entity.ConnectionData{EntityID: lower.EntityNumber})

	if err := bp.SortEntities(); err != nil {
		t.Fatalf("SortEntities: %v", err)
	}
	if upper.EntityNumber != 1 || lower.EntityNumber != 2 {
		t.Fatalf("numbers upper=%d lower=%d", upper.EntityNumber, lower.EntityNumber)
	}
	if !lower.Connections.Has("1", entity.WireRed, entity.ConnectionData{EntityID: 1}) {
		t.Fatalf("connection not remapped: %v", lower.Connections)
	}
	if got, ok := bp.Get(1); !ok || got != upper {
		t.Fatalf("Get(1)=%v", got)
	}
	if err := bp.CheckIndex(); err != nil {
		t.Fatalf("CheckIndex: %v", err)
	}
	if e := bp.AddSingle(mk("inserter", 9.5, 9.5, geom.North)); e.EntityNumber != 3 {
		t.Fatalf("next number after sort=%d", e.EntityNumber)
	}
}

func TestRemapEntityNumbers_UnmappedIsError(t *testing.T) {
	bp := NewEntities()
	bp.AddSingle(mk("inserter", 0.5, 0.5, geom.North))
	bp.AddSingle(mk("inserter", 1.5, 0.5, geom.North))
	if err := bp.RemapEntityNumbers(map[int]int{1: 5}); !errors.Is(err, ErrUnmappedEntityNumber) {
		t.Fatalf("expected ErrUnmappedEntityNumber, got %v", err)
	}
	if err := bp.RemapEntityNumbers(map[int]int{1: 5, 2: 5}); err == nil {
		t.Fatalf("expected duplicate target error")
	}
}

func TestFromEntities_RejectsDuplicates(t *testing.T) {
	a := mk("inserter", 0.5, 0.5, geom.North)
	b := mk("inserter", 1.5, 0.5, geom.North)
	a.EntityNumber, b.EntityNumber = 3, 3
	if _, err := FromEntities([]*entity.Entity{a, b}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	b.EntityNumber = 7
	bp, err := FromEntities([]*entity.Entity{a, b})
	if err != nil {
		t.Fatalf("FromEntities: %v", err)
	}
	if e := bp.AddSingle(mk("inserter", 2.5, 0.5, geom.North)); e.EntityNumber != 8 {
		t.Fatalf("next=%d", e.EntityNumber)
	}
}

func TestPartial_FindCompatibleAndErrorMarkers(t *testing.T) {
	p := NewPartial()
	existing := mk("inserter", 0.5, 0.5, geom.North)
	p.Add(existing)
	bad := mk("transport-belt", 2.5, 0.5, geom.North)
	p.AddErrorEntity(bad)

	m, isErr, found := p.FindCompatible(mk("fast-inserter", 9.5, 9.5, geom.North), geom.Pos(0.5, 0.5))
	if !found || isErr || m != existing {
		t.Fatalf("FindCompatible=%v,%v,%v", m, isErr, found)
	}
	if _, _, found := p.FindCompatible(mk("inserter", 0.5, 0.5, geom.East), geom.Pos(0.5, 0.5)); found {
		t.Fatalf("rotated inserter must not match")
	}
	if _, isErr, found := p.FindCompatible(mk("transport-belt", 2.5, 0.5, geom.North), geom.Pos(2.5, 0.5)); !found || !isErr {
		t.Fatalf("expected error marker match")
	}
	if got := p.Overlapping(geom.BBox(0, 0, 3, 1)); len(got) != 1 || got[0] != existing {
		t.Fatalf("Overlapping=%v", got)
	}
}

func TestCodec_StringRoundTrip(t *testing.T) {
	bp := NewEntities()
	am := bp.AddSingle(mk("assembling-machine-2", 1.5, 1.5, geom.North))
	am.SetProp("recipe", "iron-gear-wheel")
	am.Items = map[string]int{"speed-module": 2}
	bp.AddSingle(mk("underground-belt", 4.5, 0.5, geom.West))

	s, err := EncodeString(bp, "layer")
	if err != nil {
		t.Fatalf("EncodeString: %v", err)
	}
	if s[0] != StringVersion {
		t.Fatalf("version byte=%q", s[0])
	}
	back, label, err := DecodeString(s, protos)
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	if label != "layer" || back.Len() != 2 {
		t.Fatalf("label=%q len=%d", label, back.Len())
	}
	got, _ := back.Get(1)
	if got.Name != "assembling-machine-2" || !got.TileBox().Equals(am.TileBox()) || got.Items["speed-module"] != 2 {
		t.Fatalf("decoded %v box=%v items=%v", got, got.TileBox(), got.Items)
	}
	ub, _ := back.Get(2)
	if ub.Direction != geom.West {
		t.Fatalf("direction lost: %v", ub.Direction)
	}
	if _, _, err := DecodeString("1abc", protos); err == nil {
		t.Fatalf("expected version error")
	}
}
