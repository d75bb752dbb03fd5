package domain

import (
	"fmt"
	"strings"
)

// Dialect selects the secondary server configuration syntax to render.
type Dialect uint8

const (
	// DialectNSD renders NSD zone stanzas.
	DialectNSD Dialect = iota
	// DialectKnot renders Knot DNS remote/acl/zone sections.
	DialectKnot
)

// String returns a stable string representation of the dialect.
func (d Dialect) String() string {
	switch d {
	case DialectNSD:
		return "nsd"
	case DialectKnot:
		return "knot"
	default:
		return fmt.Sprintf("Dialect(%d)", d)
	}
}

// ParseDialect converts a string into a Dialect.
// Accepts: "nsd", "knot" (case-insensitive).
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nsd":
		return DialectNSD, nil
	case "knot":
		return DialectKnot, nil
	default:
		return 0, fmt.Errorf("unsupported output format: %q", s)
	}
}

// PayloadFormat is the encoding a peer publishes its dynamic descriptor in.
type PayloadFormat uint8

const (
	// FormatJSON is a single JSON object describing one peer.
	FormatJSON PayloadFormat = iota
	// FormatXML is a document of <peer> elements, each describing one peer.
	FormatXML
)

// String returns the format name, which doubles as the cache file extension.
func (f PayloadFormat) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatXML:
		return "xml"
	default:
		return fmt.Sprintf("PayloadFormat(%d)", f)
	}
}

// ParsePayloadFormat converts a string into a PayloadFormat.
// Accepts: "json", "xml" (case-insensitive).
func ParsePayloadFormat(s string) (PayloadFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "xml":
		return FormatXML, nil
	default:
		return 0, fmt.Errorf("unsupported payload format: %q", s)
	}
}
