package v1auth

import "errors"

var (
	// ErrMalformed marks a path shape the legacy protocol does not know (400).
	ErrMalformed = errors.New("malformed auth request")
	// ErrUnauthorized covers every credential and tenant-selection failure (401).
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoEndpoint means the catalog lacks the configured service or URL type.
	ErrNoEndpoint = errors.New("no storage endpoint in catalog")
)

// BackendFault wraps a collaborator failure that is not the caller's fault (500).
type BackendFault struct {
	Op  string
	Err error
}

func (e *BackendFault) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *BackendFault) Unwrap() error { return e.Err }

func fault(op string, err error) error { return &BackendFault{Op: op, Err: err} }
