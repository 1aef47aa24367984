package bridge

import "fmt"

// errorCode mirrors the system interface's error-code variant. Every
// surfaced error maps to InternalError; the taxonomy exists so the guest
// contract stays stable even though this host only ever populates one
// variant today.
type errorCode struct {
	Kind    string // always "internal-error" in this host
	Message string
}

func internalError(msg string) errorCode {
	return errorCode{Kind: "internal-error", Message: msg}
}

// errorRegistry interns upstream I/O failures so they can be handed to
// the guest as opaque handles (Component B). Entries are created only
// when a producer body read fails.
type errorRegistry struct {
	table *resourceTable[error]
}

func newErrorRegistry() *errorRegistry {
	return &errorRegistry{table: newResourceTable[error]()}
}

func (r *errorRegistry) intern(h Handle, err error) {
	r.table.insert(h, err)
}

func (r *errorRegistry) toDebugString(h Handle) (string, error) {
	err, ok := r.table.get(h)
	if !ok {
		return "", fatalf("error.to-debug-string", "unknown handle %d", h)
	}
	return fmt.Sprintf("%v", err), nil
}

// httpErrorCode always returns InternalError for a present handle, per
// §4.B: this host never distinguishes finer error codes.
func (r *errorRegistry) httpErrorCode(h Handle) (*errorCode, error) {
	err, ok := r.table.get(h)
	if !ok {
		return nil, fatalf("error.http-error-code", "unknown handle %d", h)
	}
	ec := internalError(err.Error())
	return &ec, nil
}

func (r *errorRegistry) drop(h Handle) {
	r.table.remove(h)
}
