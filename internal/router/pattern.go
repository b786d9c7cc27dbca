package router

import (
	"fmt"
	"strings"

	"app_kernel/internal/controller"
)

// segment is one compiled path component: either a literal to compare or a
// placeholder to capture.
type segment struct {
	literal string
	param   string
}

// pattern is the compiled form of a route path. A pattern compiles exactly
// once, at registration; resolution only reads it.
type pattern struct {
	raw      string
	segments []segment
	params   int
}

// compilePattern validates and compiles a path template. Placeholders use
// {name} syntax and span a whole segment; a segment is either a plain literal
// or a single placeholder. Trailing slashes are normalized away (the root
// pattern "/" compiles to zero segments).
func compilePattern(raw string) (*pattern, error) {
	if raw == "" || raw[0] != '/' {
		return nil, fmt.Errorf("router: pattern %q must start with /", raw)
	}

	p := &pattern{raw: raw}
	seen := make(map[string]bool)
	for _, comp := range splitPath(raw) {
		switch {
		case comp == "":
			return nil, fmt.Errorf("router: pattern %q has an empty segment", raw)
		case strings.HasPrefix(comp, "{") && strings.HasSuffix(comp, "}"):
			name := comp[1 : len(comp)-1]
			if name == "" {
				return nil, fmt.Errorf("router: pattern %q has an unnamed placeholder", raw)
			}
			if strings.ContainsAny(name, "{}") {
				return nil, fmt.Errorf("router: pattern %q has a malformed placeholder %q", raw, comp)
			}
			if seen[name] {
				return nil, fmt.Errorf("router: pattern %q repeats placeholder %q", raw, name)
			}
			seen[name] = true
			p.segments = append(p.segments, segment{param: name})
			p.params++
		case strings.ContainsAny(comp, "{}"):
			return nil, fmt.Errorf("router: pattern %q mixes literal text and braces in segment %q", raw, comp)
		default:
			p.segments = append(p.segments, segment{literal: comp})
		}
	}
	return p, nil
}

// match compares a request path against the pattern segment by segment,
// capturing placeholders positionally in declared order. Literals compare
// case-sensitively.
func (p *pattern) match(path string) (controller.Params, bool) {
	comps := splitPath(path)
	if len(comps) != len(p.segments) {
		return nil, false
	}

	var params controller.Params
	if p.params > 0 {
		params = make(controller.Params, 0, p.params)
	}
	for i, seg := range p.segments {
		if seg.param != "" {
			params = append(params, controller.Param{Name: seg.param, Value: comps[i]})
			continue
		}
		if seg.literal != comps[i] {
			return nil, false
		}
	}
	return params, true
}

// splitPath breaks a path into components, ignoring leading and trailing
// slashes. "/" yields no components.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
