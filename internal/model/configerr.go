package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	cue "cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

type CueErrorDetail struct {
	Path    string // service.repository.url
	Code    string // missing_required | unknown_field | conflicting_values | invalid_enum | type_mismatch | validation_error
	Message string // Human text
	Pos     CueErrorPosition
	Raw     string // original message
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

var (
	reIncomplete  = regexp.MustCompile(`(?i)incomplete value`)
	reNotAllowed  = regexp.MustCompile(`(?i)not allowed|unknown field`)
	reConflict    = regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`)
	reExpectedGot = regexp.MustCompile(`(?i)expected .* got .*`)
	reEnum        = regexp.MustCompile(`(?i)must be one of|expected one of|empty disjunction`)
)

// CueErrDetails turns an error returned by LoadConfig into one detail per
// offending field and position.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}

	type key struct {
		path string
		pos  CueErrorPosition
	}
	seen := make(map[key]struct{})

	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		pos := position(e)
		path := normalizePath(e.Path())
		if _, ok := seen[key{path, pos}]; ok {
			continue
		}
		seen[key{path, pos}] = struct{}{}

		raw, _ := e.Msg()
		code, msg := classify(raw, path)

		if values, dflt := enumStrings(lookup(schema, path)); len(values) > 1 {
			msg += fmt.Sprintf(": possible values (%s)", strings.Join(values, ","))
			if dflt != nil {
				msg += fmt.Sprintf(" (default %s)", *dflt)
			}
		}

		out = append(out, CueErrorDetail{
			Path:    path,
			Code:    code,
			Message: msg,
			Pos:     pos,
			Raw:     e.Error(),
		})
	}
	return out
}

func valueToString(v cue.Value) string {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err == nil {
			return s
		}
	case cue.IntKind:
		i, err := v.Int64()
		if err == nil {
			return strconv.FormatInt(i, 10)
		}
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return "E: " + err.Error()
	}
	return string(b)
}

func enumStrings(v cue.Value) (values []string, def *string) {
	if !v.Exists() {
		return nil, nil
	}
	if d, ok := v.Default(); ok && d.IsConcrete() {
		s := valueToString(d)
		def = &s
	}
	op, args := v.Expr()
	if op != cue.OrOp {
		return nil, def
	}
	seen := map[string]struct{}{}
	for _, a := range args {
		if !a.IsConcrete() {
			continue
		}
		s := valueToString(a)
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			values = append(values, s)
		}
	}
	return values, def
}

func position(err cueerrors.Error) CueErrorPosition {
	for _, r := range cueerrors.Positions(err) {
		if r.Filename() == "" {
			continue
		}
		return CueErrorPosition{
			Filename: r.Filename(),
			Line:     r.Line(),
			Column:   r.Column(),
		}
	}
	return CueErrorPosition{}
}

func normalizePath(p []string) string {
	if len(p) == 0 {
		return ""
	}
	// Remove leading definition (#Config)
	if strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func classify(raw, path string) (code, msg string) {
	switch {
	case reNotAllowed.MatchString(raw):
		return "unknown_field", fmt.Sprintf("Field %s is not allowed", last(path))
	case reIncomplete.MatchString(raw):
		return "missing_required", fmt.Sprintf("Field %s is required", last(path))
	case reEnum.MatchString(raw):
		return "invalid_enum", fmt.Sprintf("Field %s has invalid value", last(path))
	case reConflict.MatchString(raw):
		return "conflicting_values", fmt.Sprintf("Conflicting values for %s", last(path))
	case reExpectedGot.MatchString(raw):
		return "type_mismatch", fmt.Sprintf("Field %s has wrong type/value", last(path))
	default:
		return "validation_error", raw
	}
}

func lookup(root cue.Value, path string) cue.Value {
	if path == "" {
		return root
	}
	return root.LookupPath(cue.ParsePath(path))
}

func last(p string) string {
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[i+1:]
	}
	return p
}
