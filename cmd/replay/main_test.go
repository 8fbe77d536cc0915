package main

import (
	"reflect"
	"strings"
	"testing"

	"layerforge.ai/internal/sim/diagnostics"
)

func TestReadRefreshesKeepsLatestPerSeq(t *testing.T) {
	in := strings.Join([]string{
		`{"assembly_id":"a","seq":1,"counts":{"overlap":2}}`,
		`{"assembly_id":"a","seq":2}`,
		`{"assembly_id":"b","seq":1,"counts":{"overlap":1}}`,
		`{"assembly_id":"a","seq":1,"counts":{"overlap":3}}`,
	}, "\n")
	got := map[string]map[uint64]map[diagnostics.CategoryID]int{}
	if err := readRefreshes(strings.NewReader(in), "test", got); err != nil {
		t.Fatalf("readRefreshes: %v", err)
	}
	if got["a"][1]["overlap"] != 3 || got["b"][1]["overlap"] != 1 {
		t.Fatalf("got=%v", got)
	}
	if c, ok := got["a"][2]; !ok || len(c) != 0 {
		t.Fatalf("seq 2: %v %v", c, ok)
	}

	if err := readRefreshes(strings.NewReader("{"), "bad", got); err == nil {
		t.Fatalf("expected unmarshal error")
	}
}

func TestCompareCounts(t *testing.T) {
	want := map[diagnostics.CategoryID]int{"overlap": 2, "cannot-upgrade": 0}
	got := map[diagnostics.CategoryID]int{"overlap": 1, "items-ignored": 4}
	d := compareCounts(want, got)
	exp := []string{
		"items-ignored: logged=0 rebuilt=4",
		"overlap: logged=2 rebuilt=1",
	}
	if !reflect.DeepEqual(d, exp) {
		t.Fatalf("got %v", d)
	}
	if d := compareCounts(nil, map[diagnostics.CategoryID]int{"overlap": 0}); len(d) != 0 {
		t.Fatalf("zero vs missing: %v", d)
	}
}

func TestFormatCounts(t *testing.T) {
	if got := formatCounts(nil); got != "clean" {
		t.Fatalf("got %q", got)
	}
	if got := formatCounts(map[diagnostics.CategoryID]int{"b": 1, "a": 2}); got != "a=2 b=1" {
		t.Fatalf("got %q", got)
	}
}
