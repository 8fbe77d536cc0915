package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"layerforge.ai/internal/sim/blueprint"
	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/diff"
	"layerforge.ai/internal/sim/entity"
	"layerforge.ai/internal/sim/geom"
)

var protos = &catalogs.Builtin().Prototypes

func mk(name string, x, y float64) *entity.Entity {
	return entity.New(name, geom.Pos(x, y), geom.North).Normalize(protos)
}

func TestLoadAndRender(t *testing.T) {
	dir := t.TempDir()

	below := blueprint.NewEntities()
	below.AddSingle(mk("iron-chest", 0.5, 0.5))
	below.AddSingle(mk("inserter", 2.5, 0.5))
	belowJSON, err := blueprint.EncodeJSON(below, "below")
	if err != nil {
		t.Fatal(err)
	}
	belowPath := filepath.Join(dir, "below.json")
	if err := os.WriteFile(belowPath, belowJSON, 0o644); err != nil {
		t.Fatal(err)
	}

	current := blueprint.NewEntities()
	chest := mk("iron-chest", 0.5, 0.5)
	chest.SetProp("bar", 3)
	current.AddSingle(chest)
	current.AddSingle(mk("small-electric-pole", 4.5, 0.5))
	s, err := blueprint.EncodeString(current, "current")
	if err != nil {
		t.Fatal(err)
	}

	b, err := load(belowPath, nil, protos)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	c, err := load("-", strings.NewReader(s+"\n"), protos)
	if err != nil {
		t.Fatalf("load stdin: %v", err)
	}
	d, err := diff.Compute(b, c)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := render(&buf, d, "json", "out"); err != nil {
		t.Fatalf("render: %v", err)
	}
	var out output
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output: %v\n%s", err, buf.String())
	}
	if out.Stats != (diff.Stats{Changed: 1, Added: 1, Deleted: 1}) {
		t.Fatalf("stats=%+v", out.Stats)
	}
	if len(out.Deletions) != 1 || out.Deletions[0].Name != "inserter" {
		t.Fatalf("deletions=%v", out.Deletions)
	}
	if _, err := parse(string(out.Blueprint), protos); err != nil {
		t.Fatalf("emitted blueprint does not parse: %v", err)
	}

	buf.Reset()
	if err := render(&buf, d, "string", "out"); err != nil {
		t.Fatalf("render string: %v", err)
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil || !strings.HasPrefix(out.String, "0") {
		t.Fatalf("string output: %v %q", err, out.String)
	}
	if err := render(&buf, d, "yaml", "out"); err == nil {
		t.Fatalf("unknown format accepted")
	}
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	for _, in := range []string{
		"",
		"1abc",
		`{"blueprint":{"entities":[{"entity_number":0,"name":"inserter","position":{"x":0.5,"y":0.5}}]}}`,
		`{"blueprint":{"entities":[{"entity_number":1,"position":{"x":0.5,"y":0.5}}]}}`,
	} {
		if _, err := parse(in, protos); err == nil {
			t.Fatalf("accepted %q", in)
		}
	}
}
