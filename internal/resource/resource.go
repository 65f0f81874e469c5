// Package resource parses and validates the kind/name:port descriptors that
// identify a forwarding target.
package resource

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseErrorReason discriminates the ways a descriptor string can be rejected.
type ParseErrorReason string

const (
	// ReasonInvalidFormat means the input did not match kind/name:port.
	ReasonInvalidFormat ParseErrorReason = "InvalidFormat"
	// ReasonInvalidPort means the port segment was not an unsigned 16-bit integer.
	ReasonInvalidPort ParseErrorReason = "InvalidPort"
)

// ParseError reports a rejected descriptor string together with why.
type ParseError struct {
	Input  string
	Reason ParseErrorReason
}

func (e *ParseError) Error() string {
	switch e.Reason {
	case ReasonInvalidPort:
		return fmt.Sprintf("invalid port in resource %q: expected kind/name:port with a port between 0 and 65535", e.Input)
	default:
		return fmt.Sprintf("invalid resource format %q: expected kind/name:port", e.Input)
	}
}

// Descriptor identifies one remote forwarding target. Immutable once parsed.
type Descriptor struct {
	Kind       string
	Name       string
	RemotePort uint16
}

// supportedKinds is the enumerated set of resource kinds a tunnel can target.
var supportedKinds = map[string]string{
	"pod":     "pod",
	"service": "service",
	"svc":     "service",
}

// Parse parses a kind/name:port string into a Descriptor. The input must
// contain exactly one '/' splitting kind from name and exactly one ':'
// separating the pair from the port.
func Parse(s string) (Descriptor, error) {
	if strings.Count(s, ":") != 1 {
		return Descriptor{}, &ParseError{Input: s, Reason: ReasonInvalidFormat}
	}
	pair, portStr, _ := strings.Cut(s, ":")

	if strings.Count(pair, "/") != 1 {
		return Descriptor{}, &ParseError{Input: s, Reason: ReasonInvalidFormat}
	}
	kind, name, _ := strings.Cut(pair, "/")
	if kind == "" || name == "" {
		return Descriptor{}, &ParseError{Input: s, Reason: ReasonInvalidFormat}
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Descriptor{}, &ParseError{Input: s, Reason: ReasonInvalidPort}
	}

	return Descriptor{Kind: kind, Name: name, RemotePort: uint16(port)}, nil
}

// Key returns the kind/name pair used to identify the session everywhere
// (registry, logs, diagnostics entries).
func (d Descriptor) Key() string {
	return d.Kind + "/" + d.Name
}

// Supported reports whether the descriptor's kind is one a tunnel can target.
func (d Descriptor) Supported() bool {
	_, ok := supportedKinds[d.Kind]
	return ok
}

// CanonicalKind maps kind aliases onto the canonical form ("svc" -> "service").
// Returns the kind unchanged when it is not a known alias.
func (d Descriptor) CanonicalKind() string {
	if canonical, ok := supportedKinds[d.Kind]; ok {
		return canonical
	}
	return d.Kind
}

// String renders the descriptor back into kind/name:port form.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s/%s:%d", d.Kind, d.Name, d.RemotePort)
}
