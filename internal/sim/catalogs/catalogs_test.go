package catalogs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltin_HasCorpusPrototypes(t *testing.T) {
	c := Builtin()
	for _, name := range []string{"inserter", "assembling-machine-2", "underground-belt", OverlapMarkerName} {
		if _, ok := c.Prototypes.Lookup(name); !ok {
			t.Fatalf("missing builtin prototype %q", name)
		}
	}
	if len(c.Prototypes.Palette) != len(c.Prototypes.Defs) {
		t.Fatalf("palette/defs size mismatch")
	}
	if c.Prototypes.Digest == "" {
		t.Fatalf("expected digest")
	}
}

func TestLoad_MissingFileFallsBackToBuiltin(t *testing.T) {
	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := c.Prototypes.Lookup("fast-inserter"); !ok {
		t.Fatalf("expected builtin fallback")
	}
}

func TestLoad_CustomFile(t *testing.T) {
	dir := t.TempDir()
	raw := `[{"name":"loader","type":"loader","collision_box":[[-0.4,-0.9],[0.4,0.9]],"fast_replaceable_group":"loader"}]`
	if err := os.WriteFile(filepath.Join(dir, "prototypes.json"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d, ok := c.Prototypes.Lookup("loader")
	if !ok {
		t.Fatalf("expected loader")
	}
	if h := d.Box().Height(); h < 1.79 || h > 1.81 {
		t.Fatalf("box=%v", d.Box())
	}
	if _, ok := c.Prototypes.Lookup(OverlapMarkerName); !ok {
		t.Fatalf("overlap marker must always exist")
	}
	if _, ok := c.Prototypes.Lookup("inserter"); ok {
		t.Fatalf("custom catalog must not include builtin entries")
	}
}

func TestLoad_RejectsEmptyType(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prototypes.json"), []byte(`[{"name":"x"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error")
	}
}
