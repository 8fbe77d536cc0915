package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"layerforge.ai/internal/sim/geom"
)

// OverlapMarkerName is the inert prototype created where pasted content
// could not be placed.
const OverlapMarkerName = "overlapped-ghost"

type Catalogs struct {
	Prototypes PrototypeCatalog
}

type PrototypeCatalog struct {
	Palette []string
	Index   map[string]uint16
	Defs    map[string]PrototypeDef
	Digest  string
}

type PrototypeDef struct {
	Name                 string        `json:"name"`
	Type                 string        `json:"type"`
	CollisionBox         [2][2]float64 `json:"collision_box"`
	FastReplaceableGroup string        `json:"fast_replaceable_group,omitempty"`
	Flags                []string      `json:"flags,omitempty"`
}

func (d PrototypeDef) Box() geom.BoundingBox {
	return geom.BBox(d.CollisionBox[0][0], d.CollisionBox[0][1], d.CollisionBox[1][0], d.CollisionBox[1][1])
}

func (d PrototypeDef) HasFlag(flag string) bool {
	for _, f := range d.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Load reads <configDir>/prototypes.json. A missing file falls back to the
// builtin catalog.
func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadPrototypes(filepath.Join(configDir, "prototypes.json"), &c.Prototypes); err != nil {
		return nil, err
	}
	return &c, nil
}

// Builtin returns the compiled-in prototype set.
func Builtin() *Catalogs {
	var c Catalogs
	raw, _ := json.Marshal(builtinPrototypes)
	if err := indexPrototypes(raw, builtinPrototypes, &c.Prototypes); err != nil {
		// builtin table is static; an error here is a table bug.
		return &Catalogs{Prototypes: PrototypeCatalog{Defs: map[string]PrototypeDef{}, Index: map[string]uint16{}}}
	}
	return &c
}

func (c *PrototypeCatalog) Lookup(name string) (PrototypeDef, bool) {
	if c == nil {
		return PrototypeDef{}, false
	}
	d, ok := c.Defs[name]
	return d, ok
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadPrototypes(path string, out *PrototypeCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			*out = Builtin().Prototypes
			return nil
		}
		return err
	}
	var defs []PrototypeDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("prototypes.json: %w", err)
	}
	return indexPrototypes(raw, defs, out)
}

func indexPrototypes(raw []byte, defs []PrototypeDef, out *PrototypeCatalog) error {
	out.Digest = sha256Hex(raw)
	out.Defs = map[string]PrototypeDef{}
	for _, d := range defs {
		if d.Name == "" {
			return fmt.Errorf("prototypes.json: empty name")
		}
		if d.Type == "" {
			return fmt.Errorf("prototypes.json: %s: empty type", d.Name)
		}
		out.Defs[d.Name] = d
	}
	if _, ok := out.Defs[OverlapMarkerName]; !ok {
		out.Defs[OverlapMarkerName] = overlapMarker
	}

	names := make([]string, 0, len(out.Defs))
	for n := range out.Defs {
		names = append(names, n)
	}
	sort.Strings(names)
	out.Palette = names
	out.Index = make(map[string]uint16, len(names))
	for i, n := range names {
		out.Index[n] = uint16(i)
	}
	return nil
}
