package bridge

import "net/http"

// Method mirrors the system interface's method variant: the nine
// well-known verbs map identity, anything else is carried as Other
// (§6 "Method mapping").
type Method struct {
	Known string // one of GET, HEAD, POST, PUT, DELETE, CONNECT, OPTIONS, TRACE, PATCH
	Other string // set when Known == ""
}

var knownMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodConnect: true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
	http.MethodPatch:   true,
}

func methodFromString(s string) Method {
	if knownMethods[s] {
		return Method{Known: s}
	}
	return Method{Other: s}
}

func (m Method) String() string {
	if m.Known != "" {
		return m.Known
	}
	return m.Other
}

// Scheme mirrors the system interface's scheme variant (§6 "Scheme
// mapping"): HTTP and HTTPS map identity, anything else is Other.
type Scheme struct {
	Known string // "HTTP" or "HTTPS"
	Other string
}

func schemeFromString(s string) Scheme {
	switch s {
	case "http", "HTTP":
		return Scheme{Known: "HTTP"}
	case "https", "HTTPS":
		return Scheme{Known: "HTTPS"}
	default:
		return Scheme{Other: s}
	}
}

func (s Scheme) String() string {
	if s.Known != "" {
		return s.Known
	}
	return s.Other
}
