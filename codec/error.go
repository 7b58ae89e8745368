// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package codec

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// An Error is the generic reconstructed form of a serialized error. The
// constructor name, message, stack text, cause chain, and custom
// properties survive the boundary; prototype identity does not, so a name
// with no registered constructor decodes as *Error with the original name
// preserved.
type Error struct {
	Name    string
	Message string
	Stack   string
	Cause   error
	Props   map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Name != "" && e.Name != "Error" {
		return e.Name + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the cause of e, if any.
func (e *Error) Unwrap() error { return e.Cause }

// ErrorName reports the original constructor name of e.
func (e *Error) ErrorName() string { return e.Name }

// ErrorStack reports the captured stack text of e.
func (e *Error) ErrorStack() string { return e.Stack }

// ErrorProperties reports the custom properties attached to e.
func (e *Error) ErrorProperties() map[string]any { return e.Props }

// The codec consults these extension interfaces when serializing an error.
// The standard Go error surface carries only a message and a cause (via
// Unwrap); errors wanting their name, stack text, or custom properties
// preserved across the boundary implement these.
type (
	// Namer overrides the name recorded for an error. Without it, the
	// error's concrete type name is used.
	Namer interface{ ErrorName() string }

	// Stacker supplies stack text to record for an error.
	Stacker interface{ ErrorStack() string }

	// Propser supplies custom properties to record for an error. The
	// name, message, and stack must not appear here; they have dedicated
	// slots.
	Propser interface{ ErrorProperties() map[string]any }
)

// A Ctor rebuilds a concrete error from its decoded generic form. The
// returned error should preserve at least the message and cause;
// returning nil falls back to the generic form.
type Ctor func(*Error) error

// A Registry maps error names to constructors for rebuilding concrete
// error types on the receiving side. Registries are plain values passed
// where needed; there is no process-global registry.
type Registry struct {
	ctor map[string]Ctor
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry { return &Registry{ctor: make(map[string]Ctor)} }

// Register associates name with a constructor, replacing any previous
// registration. It returns r to permit chaining.
func (r *Registry) Register(name string, f Ctor) *Registry {
	r.ctor[name] = f
	return r
}

func (r *Registry) lookup(name string) Ctor {
	if r == nil {
		return nil
	}
	return r.ctor[name]
}

// ErrorName reports the name recorded for err: its Namer result if it has
// one, otherwise its concrete type name with package clutter removed.
// Unnamed errors (errors.New, fmt.Errorf) report "Error".
func ErrorName(err error) string {
	if n, ok := err.(Namer); ok {
		return n.ErrorName()
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" || name == "errorString" || strings.HasPrefix(name, "wrapError") {
		return "Error"
	}
	return name
}

// encodeError serializes err, recursively preserving its cause chain.
// Cyclic cause graphs are safe: the error's index is assigned before the
// cause is encoded.
func (e *encoder) encodeError(err error) (int, error) {
	i := e.remember(err, e.alloc())
	er := errorRecord{
		Name:    ErrorName(err),
		Message: err.Error(),
		Cause:   -1,
	}
	if s, ok := err.(Stacker); ok {
		er.Stack = s.ErrorStack()
	}
	if cause := errors.Unwrap(err); cause != nil {
		ci, cerr := e.encode(cause, nil)
		if cerr != nil {
			return 0, fmt.Errorf("error cause: %w", cerr)
		}
		er.Cause = ci
	}
	if p, ok := err.(Propser); ok {
		props := p.ErrorProperties()
		if len(props) > 0 {
			er.Props = make(map[string]int, len(props))
			for k, v := range props {
				switch k {
				case "name", "message", "stack":
					continue // dedicated slots
				}
				pi, perr := e.encode(v, nil)
				if perr != nil {
					return 0, fmt.Errorf("error property %q: %w", k, perr)
				}
				er.Props[k] = pi
			}
		}
	}
	return e.set(i, TagError, er), nil
}

// decodeError reconstructs an error record. A generic *Error shell is
// registered at the record's index before the cause is decoded, so cyclic
// cause graphs resolve; when a constructor is registered for the name,
// its concrete result replaces the shell for subsequent references.
func (d *decoder) decodeError(i int, er errorRecord) (any, error) {
	shell := &Error{Name: er.Name, Message: er.Message, Stack: er.Stack}
	d.finish(i, shell)
	if er.Cause >= 0 {
		cv, err := d.decode(er.Cause)
		if err != nil {
			return nil, err
		}
		ce, ok := cv.(error)
		if !ok {
			return nil, fmt.Errorf("record %d: cause is %T, not an error", i, cv)
		}
		shell.Cause = ce
	}
	if len(er.Props) > 0 {
		shell.Props = make(map[string]any, len(er.Props))
		for k, pi := range er.Props {
			v, err := d.decode(pi)
			if err != nil {
				return nil, err
			}
			shell.Props[k] = v
		}
	}
	if ctor := d.reg.lookup(er.Name); ctor != nil {
		if concrete := ctor(shell); concrete != nil {
			d.out[i] = concrete
			return concrete, nil
		}
	}
	return shell, nil
}
