package decode

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// ErrorKind identifies the shape of a decode failure.
type ErrorKind int

const (
	KindFailure ErrorKind = iota
	KindField
	KindIndex
	KindOneOf
)

// Error is a nested decode failure. Field and Index errors wrap the failure
// found below them; OneOf collects the failure of every alternative.
type Error struct {
	Kind    ErrorKind
	Field   string
	Index   int
	Inner   *Error
	Errors  []*Error
	Message string
	Value   any
}

var simpleField = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func accessor(e *Error) string {
	switch e.Kind {
	case KindField:
		if simpleField.MatchString(e.Field) {
			return "." + e.Field
		}
		return "['" + e.Field + "']"
	case KindIndex:
		return "[" + strconv.Itoa(e.Index) + "]"
	}
	return ""
}

// Path returns the access path to the innermost failure, for example
// "json.entries[2].amount". A OneOf with several failing alternatives ends
// the path.
func (e *Error) Path() string {
	var b strings.Builder
	b.WriteString("json")
	for cur := e; cur != nil; {
		switch cur.Kind {
		case KindField, KindIndex:
			b.WriteString(accessor(cur))
			cur = cur.Inner
		case KindOneOf:
			if len(cur.Errors) != 1 {
				return b.String()
			}
			cur = cur.Errors[0]
		default:
			return b.String()
		}
	}
	return b.String()
}

// Error renders the failure as a readable trace.
func (e *Error) Error() string {
	return e.trace(nil)
}

func (e *Error) trace(context []string) string {
	cur := e
	for {
		switch cur.Kind {
		case KindField, KindIndex:
			context = append(context, accessor(cur))
			if cur.Inner == nil {
				return "Problem at json" + strings.Join(context, "")
			}
			cur = cur.Inner
			continue
		case KindOneOf:
			switch len(cur.Errors) {
			case 0:
				msg := "Ran into a oneOf with no possibilities"
				if len(context) > 0 {
					msg += " at json" + strings.Join(context, "")
				}
				return msg + "!"
			case 1:
				cur = cur.Errors[0]
				continue
			}
			starter := "oneOf"
			if len(context) > 0 {
				starter = "The oneOf at json" + strings.Join(context, "")
			}
			var b strings.Builder
			b.WriteString(starter)
			b.WriteString(" failed in the following ")
			b.WriteString(strconv.Itoa(len(cur.Errors)))
			b.WriteString(" ways:")
			for i, sub := range cur.Errors {
				b.WriteString("\n\n(")
				b.WriteString(strconv.Itoa(i + 1))
				b.WriteString(") ")
				b.WriteString(indent(sub.trace(nil)))
			}
			return b.String()
		default:
			intro := "Problem with the given value:\n\n"
			if len(context) > 0 {
				intro = "Problem with the value at json" + strings.Join(context, "") + ":\n\n"
			}
			return intro + "    " + indent(render(cur.Value)) + "\n\n" + cur.Message
		}
	}
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n    ")
}

func render(v any) string {
	out, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return "<unprintable>"
	}
	return string(out)
}
