// Package watch describes raw filesystem change notifications and the
// capability that delivers them.
package watch

import (
	"fmt"
	"strings"
)

// Kind is the coarse class of a raw notification.
type Kind int

const (
	KindAny Kind = iota
	KindAccess
	KindCreate
	KindModify
	KindRemove
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "Any"
	case KindAccess:
		return "Access"
	case KindCreate:
		return "Create"
	case KindModify:
		return "Modify"
	case KindRemove:
		return "Remove"
	case KindOther:
		return "Other"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// RawEvent is a change notification as delivered by a Backend, before any
// security classification.
type RawEvent struct {
	Kind Kind
	// Op is the backend-specific operation, e.g. "write" or "rename".
	Op    string
	Paths []string
}

// String renders the kind together with its operation, e.g. "Modify(write)".
func (e RawEvent) String() string {
	if e.Op == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + "(" + strings.ToLower(e.Op) + ")"
}

// Handler receives either a notification or a watch-level error. It may be
// called from a goroutine owned by the backend and must not block.
type Handler func(ev RawEvent, err error)

// Session is an active watch registration.
type Session interface {
	// Close releases the watch. Once Close returns the handler is not
	// invoked again for this session.
	Close() error
}

// Backend registers watches on filesystem paths.
type Backend interface {
	Watch(root string, recursive bool, h Handler) (Session, error)
}
