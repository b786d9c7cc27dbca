package controller

import (
	"encoding/json"
	"fmt"
)

// JSON encodes v and returns it as the explicit response body, switching the
// content type to application/json. Intended use:
//
//	return ctx.JSON(user)
func (c *Context) JSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("controller: encoding json body: %w", err)
	}
	if err := c.Response.SetContentType("application/json"); err != nil {
		return nil, err
	}
	return data, nil
}

// RenderBody turns a handler's return value into response bytes. nil reports
// "no explicit body" so the dispatcher drains the capture scopes instead.
// Strings and byte slices pass through verbatim; anything else is
// JSON-encoded and flips the content type to application/json.
func (c *Context) RenderBody(v any) ([]byte, bool, error) {
	switch b := v.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return b, true, nil
	case string:
		return []byte(b), true, nil
	case json.RawMessage:
		if err := c.Response.SetContentType("application/json"); err != nil {
			return nil, false, err
		}
		return []byte(b), true, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false, fmt.Errorf("controller: encoding response body: %w", err)
		}
		if err := c.Response.SetContentType("application/json"); err != nil {
			return nil, false, err
		}
		return data, true, nil
	}
}
