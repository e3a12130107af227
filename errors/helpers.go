package errors

import "fmt"

// Op is a builder argument naming the operation for E.
type Op string

// Component is a builder argument naming the component for E.
type Component string

// E builds an *Error from a variadic list of typed arguments:
// Op, Component, Kind, ErrorCode, error, string (annotation added to Metadata),
// map[string]interface{} (merged into Metadata) and bool (Retryable).
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = Operation(a)
		case Operation:
			e.Op = a
		case Component:
			e.Component = string(a)
		case Kind:
			e.Kind = a
		case ErrorCode:
			e.Code = a
		case *Error:
			cp := *a
			e.Err = &cp
			if e.Kind == "" {
				e.Kind = a.Kind
			}
			e.Retryable = e.Retryable || a.Retryable
		case error:
			e.Err = a
		case string:
			if e.Metadata == nil {
				e.Metadata = map[string]interface{}{}
			}
			e.Metadata["note"] = a
		case map[string]interface{}:
			if e.Metadata == nil {
				e.Metadata = map[string]interface{}{}
			}
			for k, v := range a {
				e.Metadata[k] = v
			}
		case bool:
			e.Retryable = a
		default:
			if e.Metadata == nil {
				e.Metadata = map[string]interface{}{}
			}
			e.Metadata["unknown"] = fmt.Sprintf("%v", a)
		}
	}
	if e.Err == nil {
		e.Err = fmt.Errorf("unknown error")
	}
	return e
}
