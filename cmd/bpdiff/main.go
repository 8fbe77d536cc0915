package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"

	"layerforge.ai/internal/protocol"
	"layerforge.ai/internal/sim/blueprint"
	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/diff"
	"layerforge.ai/internal/sim/entity"
)

// Prints the diff that turns the first blueprint into the second. Each
// argument is a file holding an exchange string or a JSON document, or "-"
// for stdin.
func main() {
	var (
		configDir = flag.String("configs", "./configs", "config directory")
		format    = flag.String("format", "json", "output format: json|string")
		label     = flag.String("label", "diff", "label of the emitted blueprint")
		debug     = flag.Bool("debug", false, "dump the computed diff to stderr")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: bpdiff [flags] <below> <current>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	protos := &cats.Prototypes

	below, err := load(flag.Arg(0), os.Stdin, protos)
	if err != nil {
		fmt.Fprintln(os.Stderr, "below:", err)
		os.Exit(1)
	}
	current, err := load(flag.Arg(1), os.Stdin, protos)
	if err != nil {
		fmt.Fprintln(os.Stderr, "current:", err)
		os.Exit(1)
	}

	d, err := diff.Compute(below, current)
	if err != nil {
		fmt.Fprintln(os.Stderr, "diff:", err)
		os.Exit(1)
	}
	if *debug {
		spew.Fdump(os.Stderr, d)
	}
	if err := render(os.Stdout, d, *format, *label); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func load(arg string, stdin io.Reader, protos entity.Prototypes) (*blueprint.Entities, error) {
	var (
		raw []byte
		err error
	)
	if arg == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(arg)
	}
	if err != nil {
		return nil, err
	}
	return parse(string(raw), protos)
}

// parse accepts either form and checks the document against the blueprint
// schema before decoding.
func parse(s string, protos entity.Prototypes) (*blueprint.Entities, error) {
	doc, err := blueprint.ExtractJSON(s)
	if err != nil {
		return nil, err
	}
	if err := protocol.Validate(protocol.SchemaBlueprint, doc); err != nil {
		return nil, err
	}
	bp, _, err := blueprint.DecodeJSON(doc, protos)
	return bp, err
}

type output struct {
	Stats     diff.Stats       `json:"stats"`
	Deletions []*entity.Entity `json:"deletions,omitempty"`
	Blueprint json.RawMessage  `json:"blueprint,omitempty"`
	String    string           `json:"string,omitempty"`
}

func render(w io.Writer, d *diff.Diff, format, label string) error {
	out := output{Stats: d.Stats(), Deletions: d.Deletions}
	switch strings.ToLower(format) {
	case "json":
		doc, err := blueprint.EncodeJSON(d.Content, label)
		if err != nil {
			return err
		}
		out.Blueprint = doc
	case "string":
		s, err := blueprint.EncodeString(d.Content, label)
		if err != nil {
			return err
		}
		out.String = s
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
