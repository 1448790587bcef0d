package host

import (
	"encoding/json"
	"fmt"
)

// Program is native code deployed on an account. Invoke runs one exported
// method against the supplied context; returning an error aborts the
// sub-invocation and reverts everything it staged.
type Program interface {
	Invoke(ctx *Context, method string) ([]byte, error)
}

// Handler implements a single exported method.
type Handler func(ctx *Context) ([]byte, error)

// Router dispatches methods by name.
type Router map[string]Handler

// Invoke implements Program.
func (r Router) Invoke(ctx *Context, method string) ([]byte, error) {
	handler, ok := r[method]
	if !ok || handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
	return handler(ctx)
}

// JSON encodes a method return value.
func JSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
