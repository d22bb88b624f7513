package automation

import (
	"fmt"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([^{}\s][^{}]*?)\s*\}\}`)

// interpolate resolves {{dot.path}} tokens in a template against the event
// payload, falling back to the event context. Tokens that do not resolve to a
// truthy value are left in place verbatim: a visibly broken template is a
// better failure mode than a silently blanked recipient or subject.
func interpolate(template string, eventData, evCtx map[string]any) string {
	if template == "" {
		return ""
	}

	return tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		path := strings.TrimSpace(token[2 : len(token)-2])

		if v, ok := lookupPath(eventData, path); ok && truthy(v) {
			return stringify(v)
		}
		if v, ok := lookupPath(evCtx, path); ok && truthy(v) {
			return stringify(v)
		}
		return token
	})
}

// truthy mirrors the loose semantics the template contract expects: nil,
// empty strings, false, and numeric zero do not count as resolved.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
