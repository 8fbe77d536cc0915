package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello       = "HELLO"
	TypeWelcome     = "WELCOME"
	TypeCommand     = "COMMAND"
	TypeAck         = "ACK"
	TypeDiagnostics = "DIAGNOSTICS"
	TypeDiff        = "DIFF"
	TypeError       = "ERROR"
)

// Command ops.
const (
	OpList         = "list"
	OpSubscribe    = "subscribe"
	OpCreate       = "create"
	OpDelete       = "delete"
	OpAddImport    = "add_import"
	OpRemoveImport = "remove_import"
	OpRefresh      = "refresh"
	OpSave         = "save"
	OpReset        = "reset"
	OpDiff         = "diff"
	OpPaste        = "paste"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
