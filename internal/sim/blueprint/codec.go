package blueprint

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"

	"layerforge.ai/internal/sim/entity"
)

// StringVersion is the leading version byte of exported blueprint strings.
const StringVersion = '0'

type Document struct {
	Blueprint Body `json:"blueprint"`
}

type Body struct {
	Item     string           `json:"item"`
	Label    string           `json:"label,omitempty"`
	Entities []*entity.Entity `json:"entities"`
	Version  int64            `json:"version,omitempty"`
}

// EncodeJSON renders bp as a blueprint document.
func EncodeJSON(bp *Entities, label string) ([]byte, error) {
	return json.Marshal(Document{Blueprint: Body{Item: "blueprint", Label: label, Entities: bp.Entities()}})
}

// DecodeJSON parses a blueprint document and resolves prototypes.
func DecodeJSON(b []byte, protos entity.Prototypes) (*Entities, string, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, "", fmt.Errorf("blueprint json: %w", err)
	}
	for _, e := range doc.Blueprint.Entities {
		if e == nil {
			return nil, "", fmt.Errorf("blueprint json: null entity")
		}
		e.Normalize(protos)
	}
	bp, err := FromEntities(doc.Blueprint.Entities)
	if err != nil {
		return nil, "", err
	}
	return bp, doc.Blueprint.Label, nil
}

// EncodeString renders bp as an exchange string: version byte followed by
// base64 of the zlib-compressed document.
func EncodeString(bp *Entities, label string) (string, error) {
	raw, err := EncodeJSON(bp, label)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := zw.Write(raw); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return string(StringVersion) + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeString parses an exchange string. Plain JSON documents are accepted
// as well.
func DecodeString(s string, protos entity.Prototypes) (*Entities, string, error) {
	raw, err := ExtractJSON(s)
	if err != nil {
		return nil, "", err
	}
	return DecodeJSON(raw, protos)
}

// ExtractJSON returns the document carried by an exchange string.
func ExtractJSON(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("blueprint string: empty")
	}
	if s[0] == '{' {
		return []byte(s), nil
	}
	if s[0] != StringVersion {
		return nil, fmt.Errorf("blueprint string: unsupported version %q", s[0])
	}
	compressed, err := base64.StdEncoding.DecodeString(s[1:])
	if err != nil {
		return nil, fmt.Errorf("blueprint string: %w", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("blueprint string: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("blueprint string: %w", err)
	}
	return raw, nil
}
