package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrRateLimit       = "E_RATE_LIMIT"
	ErrBusy            = "E_BUSY"

	// Assembly workflows.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrNotFound     = "E_NOT_FOUND"
	ErrNoOverlap    = "E_NO_OVERLAP"
	ErrSelfImport   = "E_SELF_IMPORT"
	ErrImportCycle  = "E_IMPORT_CYCLE"
	ErrAreaTaken    = "E_AREA_TAKEN"
	ErrInUse        = "E_IN_USE"
	ErrLimit        = "E_LIMIT"
	ErrNotRefreshed = "E_NOT_REFRESHED"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrRateLimit:       {},
	ErrBusy:            {},
	ErrBadRequest:      {},
	ErrNotFound:        {},
	ErrNoOverlap:       {},
	ErrSelfImport:      {},
	ErrImportCycle:     {},
	ErrAreaTaken:       {},
	ErrInUse:           {},
	ErrLimit:           {},
	ErrNotRefreshed:    {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
