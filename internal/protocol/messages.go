package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// AssemblyID subscribes the session to one assembly right away.
	AssemblyID string `json:"assembly_id,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	Catalogs        CatalogDigest `json:"catalogs"`
	Assemblies      []AssemblyRef `json:"assemblies"`
}

type CatalogDigest struct {
	Prototypes DigestRef `json:"prototypes"`
	Tuning     string    `json:"tuning_digest,omitempty"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

type AssemblyRef struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Surface    string     `json:"surface"`
	Area       [4]float64 `json:"area"`
	Imports    int        `json:"imports"`
	RefreshSeq uint64     `json:"refresh_seq"`
}

// COMMAND (client -> server)
type CommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Op              string `json:"op"`
	AssemblyID      string `json:"assembly_id,omitempty"`

	// create
	Name    string      `json:"name,omitempty"`
	Surface string      `json:"surface,omitempty"`
	Area    *[4]float64 `json:"area,omitempty"`

	// add_import / remove_import
	SourceID         string      `json:"source_id,omitempty"`
	RelativePosition *[2]float64 `json:"relative_position,omitempty"`
	ImportIndex      *int        `json:"import_index,omitempty"`

	// paste: a blueprint string placed at Position, relative to the area.
	Blueprint string      `json:"blueprint,omitempty"`
	Position  *[2]float64 `json:"position,omitempty"`
}

// ACK (server -> client)
type AckMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	AckFor          string        `json:"ack_for"`
	Accepted        bool          `json:"accepted"`
	Code            string        `json:"code,omitempty"`
	Message         string        `json:"message,omitempty"`
	AssemblyID      string        `json:"assembly_id,omitempty"`
	Assemblies      []AssemblyRef `json:"assemblies,omitempty"`
}

type Location struct {
	Surface string     `json:"surface"`
	Area    [4]float64 `json:"area"`
}

type Diagnostic struct {
	ID          int       `json:"id"`
	Key         string    `json:"key"`
	Params      []string  `json:"params,omitempty"`
	Text        string    `json:"text"`
	Location    *Location `json:"location,omitempty"`
	AltLocation *Location `json:"alt_location,omitempty"`
}

// DIAGNOSTICS (server -> client), sent after every refresh of a
// subscribed assembly.
type DiagnosticsMsg struct {
	Type            string                  `json:"type"`
	ProtocolVersion string                  `json:"protocol_version"`
	AssemblyID      string                  `json:"assembly_id"`
	RefreshSeq      uint64                  `json:"refresh_seq"`
	Count           int                     `json:"count"`
	Categories      map[string][]Diagnostic `json:"categories"`
}

type DiffStats struct {
	References int `json:"references"`
	Changed    int `json:"changed"`
	Added      int `json:"added"`
	Deleted    int `json:"deleted"`
}

// DIFF (server -> client), the answer to a diff command.
type DiffMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	ReqID           string    `json:"req_id"`
	AssemblyID      string    `json:"assembly_id"`
	Stats           DiffStats `json:"stats"`
	Blueprint       string    `json:"blueprint"`
}

// ERROR (server -> client), for messages that cannot be acked.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
