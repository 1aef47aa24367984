package bridge

import "golang.org/x/net/http/httpguts"

// headerErrorKind enumerates the soft failures a field-set mutation can
// return to the guest (§7 tier 1).
type headerErrorKind int

const (
	headerErrorInvalidSyntax headerErrorKind = iota
	headerErrorImmutable
	headerErrorForbidden
)

// headerError is returned (never panicked) by every Fields mutator that
// can fail; it is the Go rendering of the system interface's
// header-error result variant.
type headerError struct {
	Kind headerErrorKind
}

func (e *headerError) Error() string {
	switch e.Kind {
	case headerErrorImmutable:
		return "immutable"
	case headerErrorForbidden:
		return "forbidden"
	default:
		return "invalid-syntax"
	}
}

// fieldEntry is one (name, value) pair, preserved in insertion order.
type fieldEntry struct {
	Name  string
	Value []byte
}

// Fields is an ordered header multimap with a mutability flag, grounded
// on connectrpc.com/connect's header-merging helpers and validated with
// the same golang.org/x/net/http/httpguts rules badu/http builds its own
// ValidHeaderFieldName/Value on.
type Fields struct {
	immutable bool
	entries   []fieldEntry
}

// NewFields returns an empty, mutable field set.
func NewFields() *Fields {
	return &Fields{}
}

// FieldsFromList performs a validating collect: on the first invalid
// entry it returns invalid-syntax and commits nothing (§4.D).
func FieldsFromList(pairs [][2]string) (*Fields, error) {
	f := &Fields{}
	staged := make([]fieldEntry, 0, len(pairs))
	for _, p := range pairs {
		name, value := p[0], p[1]
		if !validFieldName(name) || !validFieldValue(value) {
			return nil, &headerError{Kind: headerErrorInvalidSyntax}
		}
		staged = append(staged, fieldEntry{Name: name, Value: []byte(value)})
	}
	f.entries = staged
	return f, nil
}

// AsImmutable returns a copy of f flagged immutable, used whenever the
// surface exposes a snapshot of headers already committed to the wire
// (an incoming request's headers, or a realized response's headers).
func (f *Fields) AsImmutable() *Fields {
	return &Fields{immutable: true, entries: append([]fieldEntry(nil), f.entries...)}
}

func validFieldName(name string) bool {
	return httpguts.ValidHeaderFieldName(name)
}

func validFieldValue(value string) bool {
	return httpguts.ValidHeaderFieldValue(value)
}

// Get returns every value stored under name, in insertion order.
func (f *Fields) Get(name string) []string {
	var out []string
	for _, e := range f.entries {
		if equalFoldHeader(e.Name, name) {
			out = append(out, string(e.Value))
		}
	}
	return out
}

// Set replaces every entry for name with values, in place: the first
// existing occurrence becomes values[0] (name is inserted at the tail
// if it was absent), values[1:] are inserted immediately after it, and
// any other pre-existing occurrence of name is dropped. This preserves
// name's position in insertion order rather than moving it to the tail.
// Set(name, nil) is a pure deletion.
func (f *Fields) Set(name string, values []string) error {
	if f.immutable {
		return &headerError{Kind: headerErrorImmutable}
	}
	if !validFieldName(name) {
		return &headerError{Kind: headerErrorInvalidSyntax}
	}
	for _, v := range values {
		if !validFieldValue(v) {
			return &headerError{Kind: headerErrorInvalidSyntax}
		}
	}
	if len(values) == 0 {
		f.deleteLocked(name)
		return nil
	}

	replacement := make([]fieldEntry, len(values))
	for i, v := range values {
		replacement[i] = fieldEntry{Name: name, Value: []byte(v)}
	}

	// Built into a fresh slice: f.entries can't be filtered in place here
	// the way deleteLocked does, since replacement may hold more entries
	// than the single one it replaces and would overwrite entries further
	// along the same backing array before they're read.
	out := make([]fieldEntry, 0, len(f.entries)+len(replacement))
	inserted := false
	for _, e := range f.entries {
		if !equalFoldHeader(e.Name, name) {
			out = append(out, e)
			continue
		}
		if !inserted {
			out = append(out, replacement...)
			inserted = true
		}
	}
	if !inserted {
		out = append(out, replacement...)
	}
	f.entries = out
	return nil
}

// Delete removes every entry for name.
func (f *Fields) Delete(name string) error {
	if f.immutable {
		return &headerError{Kind: headerErrorImmutable}
	}
	if !validFieldName(name) {
		return &headerError{Kind: headerErrorInvalidSyntax}
	}
	f.deleteLocked(name)
	return nil
}

func (f *Fields) deleteLocked(name string) {
	kept := f.entries[:0]
	for _, e := range f.entries {
		if !equalFoldHeader(e.Name, name) {
			kept = append(kept, e)
		}
	}
	f.entries = kept
}

// Append adds one more (name, value) pair after any existing entries.
func (f *Fields) Append(name, value string) error {
	if f.immutable {
		return &headerError{Kind: headerErrorImmutable}
	}
	if !validFieldName(name) || !validFieldValue(value) {
		return &headerError{Kind: headerErrorInvalidSyntax}
	}
	f.entries = append(f.entries, fieldEntry{Name: name, Value: []byte(value)})
	return nil
}

// Entries returns every (name, value) pair in insertion order: across
// distinct names in the order first seen, and within one name in
// first-insert-then-append order (§8 "Field insertion order").
func (f *Fields) Entries() [][2]string {
	out := make([][2]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = [2]string{e.Name, string(e.Value)}
	}
	return out
}

// Clone produces a new mutable copy regardless of f's own mutability.
func (f *Fields) Clone() *Fields {
	return &Fields{entries: append([]fieldEntry(nil), f.entries...)}
}

func equalFoldHeader(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
