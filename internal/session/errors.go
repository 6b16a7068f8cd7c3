package session

import "errors"

// Error taxonomy shared by every transition. Handlers branch with errors.Is:
// the first three map to client-class rejections, ErrNotFound to a missing
// resource, ErrConflict to a lost slot-fill or transition race. Anything else
// is a server-class failure surfaced as-is.
var (
	ErrInvalidMove      = errors.New("invalid move")
	ErrUnauthorized     = errors.New("identity not bound to session")
	ErrIllegalForStatus = errors.New("action illegal for session status")
	ErrNotFound         = errors.New("session not found")
	ErrConflict         = errors.New("conflicting concurrent transition")
)
