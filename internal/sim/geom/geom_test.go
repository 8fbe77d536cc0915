package geom

import "testing"

func TestNormalizeDirection(t *testing.T) {
	cases := []struct {
		in   int
		want Direction
	}{
		{in: 0, want: North},
		{in: 2, want: East},
		{in: 4, want: South},
		{in: 6, want: West},
		{in: 8, want: North},
		{in: -1, want: West},
		{in: 90, want: East},
		{in: 180, want: South},
		{in: 270, want: West},
		{in: -90, want: West},
	}
	for _, c := range cases {
		if got := NormalizeDirection(c.in); got != c.want {
			t.Fatalf("NormalizeDirection(%d)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestDirectionVectorAndOpposite(t *testing.T) {
	if v := East.Vector(); !v.Equals(Pos(1, 0)) {
		t.Fatalf("east vector=%v", v)
	}
	if v := South.Vector(); !v.Equals(Pos(0, 1)) {
		t.Fatalf("south vector=%v", v)
	}
	if East.Opposite() != West || North.Opposite() != South {
		t.Fatalf("opposite mismatch")
	}
}

func TestBoundingBox_RotateAboutOrigin(t *testing.T) {
	b := BBox(-0.5, -1.5, 0.5, 1.5)
	got := b.RotateAboutOrigin(East)
	if want := BBox(-1.5, -0.5, 1.5, 0.5); !got.Equals(want) {
		t.Fatalf("rotate east=%v want %v", got, want)
	}
	if got := b.RotateAboutOrigin(South); !got.Equals(b) {
		t.Fatalf("rotate south=%v want %v", got, b)
	}
}

func TestBoundingBox_RoundTileConservative(t *testing.T) {
	// A 3x3 machine footprint queried from the world with float noise.
	b := BBox(-1.4, -1.4, 1.4, 1.4).Shift(Pos(10.5, 10.5))
	if got, want := b.RoundTile(), BBox(9, 9, 12, 12); !got.Equals(want) {
		t.Fatalf("RoundTile=%v want %v", got, want)
	}
	noisy := BBox(8.95, 9, 12.05, 12)
	if got, want := noisy.RoundTile(), BBox(8, 9, 13, 12); !got.Equals(want) {
		t.Fatalf("RoundTile(noisy)=%v want %v", got, want)
	}
	if got, want := noisy.RoundTileConservative(0.1), BBox(9, 9, 12, 12); !got.Equals(want) {
		t.Fatalf("RoundTileConservative=%v want %v", got, want)
	}
}

func TestBoundingBox_IntersectsNonZeroArea(t *testing.T) {
	a := BBox(0, 0, 2, 2)
	if !a.IntersectsNonZeroArea(BBox(1, 1, 3, 3)) {
		t.Fatalf("expected overlap")
	}
	if a.IntersectsNonZeroArea(BBox(2, 0, 4, 2)) {
		t.Fatalf("edge contact must not count")
	}
	if a.IntersectsNonZeroArea(BBox(1, 1, 1, 1)) {
		t.Fatalf("zero area box must not count")
	}
	if got := a.Intersect(BBox(1, -1, 5, 1)); !got.Equals(BBox(1, 0, 2, 1)) {
		t.Fatalf("Intersect=%v", got)
	}
	if !a.Intersect(BBox(5, 5, 6, 6)).IsEmpty() {
		t.Fatalf("expected empty intersection")
	}
}

func TestBoundingBox_Symmetry(t *testing.T) {
	if !BBox(-1.5, -1.5, 1.5, 1.5).IsCenteredSquare() {
		t.Fatalf("expected centered square")
	}
	rect := BBox(-0.5, -1, 0.5, 1)
	if rect.IsCenteredSquare() || !rect.IsCenteredRectangle() {
		t.Fatalf("expected centered rectangle only")
	}
	if BBox(0, 0, 1, 1).IsCenteredRectangle() {
		t.Fatalf("offset box is not centered")
	}
}

func TestBoundingBox_TilesRowMajor(t *testing.T) {
	got := BBox(1, 2, 3, 4).Tiles()
	want := []Tile{{1, 2}, {2, 2}, {1, 3}, {2, 3}}
	if len(got) != len(want) {
		t.Fatalf("tiles=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tiles[%d]=%v want %v", i, got[i], want[i])
		}
	}
	if n := len(BBox(0, 0, 0, 5).Tiles()); n != 0 {
		t.Fatalf("empty box yielded %d tiles", n)
	}
}

func TestBoundingBox_ShiftToOriginAndContains(t *testing.T) {
	b := BBox(4, 5, 8, 9)
	if got := b.ShiftToOrigin(); !got.Equals(BBox(0, 0, 4, 4)) {
		t.Fatalf("ShiftToOrigin=%v", got)
	}
	if !b.Contains(Pos(4, 5)) || b.Contains(Pos(8, 5)) {
		t.Fatalf("Contains must be half-open")
	}
	if !b.ContainsBox(BBox(5, 5, 8, 9)) || b.ContainsBox(BBox(3, 5, 8, 9)) {
		t.Fatalf("ContainsBox mismatch")
	}
	if got := Pos(1.5, -0.5).Floor(); got != (Tile{X: 1, Y: -1}) {
		t.Fatalf("Floor=%v", got)
	}
}
