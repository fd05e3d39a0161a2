// Package filter evaluates the named predicates a watcher installs on a space.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"spacehub/internal/presence"
)

var (
	ErrUnknownVariant = errors.New("filter must set exactly one variant")
	ErrMissingName    = errors.New("filter name is required")
)

// Predicate is a closed set of variants. The unexported method keeps other
// packages from adding one, and every variant has to implement its own
// evaluation.
type Predicate interface {
	match(rec presence.Record) bool
	kind() string
}

// ContainsName matches users whose name contains Value, ignoring case.
type ContainsName struct {
	lowered string
}

func NewContainsName(value string) ContainsName {
	return ContainsName{lowered: strings.ToLower(value)}
}

func (f ContainsName) Value() string { return f.lowered }

func (f ContainsName) match(rec presence.Record) bool {
	return strings.Contains(rec.LowercaseName, f.lowered)
}

func (ContainsName) kind() string { return "containsName" }

// Everybody matches every user.
type Everybody struct{}

func (Everybody) match(presence.Record) bool { return true }

func (Everybody) kind() string { return "everybody" }

// LiveStreaming matches users with the megaphone flag set.
type LiveStreaming struct{}

func (LiveStreaming) match(rec presence.Record) bool { return rec.MegaphoneState }

func (LiveStreaming) kind() string { return "liveStreaming" }

// Spec is a predicate registered under a name, unique per watcher and space.
type Spec struct {
	Name      string
	Predicate Predicate
}

func (s Spec) Matches(rec presence.Record) bool {
	if s.Predicate == nil {
		panic(fmt.Sprintf("filter %q has no predicate", s.Name))
	}
	return s.Predicate.match(rec)
}

func (s Spec) Kind() string {
	if s.Predicate == nil {
		return ""
	}
	return s.Predicate.kind()
}

// AnyMatches reports whether at least one of specs matches rec.
func AnyMatches(specs []Spec, rec presence.Record) bool {
	for _, s := range specs {
		if s.Matches(rec) {
			return true
		}
	}
	return false
}
