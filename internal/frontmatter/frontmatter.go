// Package frontmatter splits, decodes, and serializes the frontmatter block
// of a markdown document for both the YAML (`---`) and TOML (`+++`)
// delimiter conventions.
package frontmatter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jidohq/sessiond/internal/errs"
)

// Syntax names a supported frontmatter delimiter convention.
type Syntax string

const (
	YAML    Syntax = "yaml"
	TOML    Syntax = "toml"
	Unknown Syntax = ""
)

var delimiterFor = map[Syntax]string{
	YAML: "---",
	TOML: "+++",
}

// LineEndings controls serialize-time newline canonicalization.
type LineEndings string

const (
	LineEndingsPreserve LineEndings = "preserve"
	LineEndingsLF       LineEndings = "lf"
)

// TrailingWhitespace controls serialize-time trailing-whitespace trimming.
type TrailingWhitespace string

const (
	TrailingWhitespacePreserve TrailingWhitespace = "preserve"
	TrailingWhitespaceTrim     TrailingWhitespace = "trim"
)

// ParseOptions governs Split/Decode.
type ParseOptions struct {
	DefaultSyntax     Syntax
	SupportedSyntaxes []Syntax
	UseFallback       bool // force the ad hoc scalar-line decoder, bypassing yaml/toml libs
}

// SerializeOptions governs Serialize.
type SerializeOptions struct {
	Syntax               Syntax
	EmitEmptyFrontmatter bool
	LineEndings          LineEndings
	TrailingWhitespace   TrailingWhitespace
}

// Split locates the frontmatter block (if any) in raw and returns the
// detected syntax, the raw frontmatter content (without delimiters), and
// the remaining body. found is false when raw carries no recognized
// delimiter, in which case the whole input is body.
func Split(raw string) (syntax Syntax, content string, body string, found bool, err *errs.Error) {
	for s, delim := range delimiterFor {
		prefix := delim + "\n"
		if !strings.HasPrefix(raw, prefix) {
			continue
		}
		rest := raw[len(delim):]
		idx := strings.Index(rest, "\n"+delim)
		if idx == -1 {
			return Unknown, "", "", false, errs.New(errs.ParseFailed, "unclosed frontmatter delimiter").
				WithDetails(map[string]any{"line": 1, "delimiter": delim})
		}
		fmContent := rest[:idx]
		rest2 := rest[idx+len("\n"+delim):]
		body := strings.TrimPrefix(rest2, "\n")
		return s, fmContent, body, true, nil
	}
	return Unknown, "", raw, false, nil
}

// Decode parses frontmatter content into a scalar map; key order is not
// preserved. When syntax is Unknown or opts.UseFallback is set, the hand-rolled
// key:value line scanner is used instead of the yaml/toml libraries.
func Decode(syntax Syntax, content string, opts ParseOptions) (map[string]any, *errs.Error) {
	if opts.UseFallback || syntax == Unknown {
		return decodeFallback(content), nil
	}

	switch syntax {
	case YAML:
		var m map[string]any
		if err := yaml.Unmarshal([]byte(content), &m); err != nil {
			return nil, errs.Wrap(errs.ParseFailed, "failed to parse yaml frontmatter", err)
		}
		if m == nil {
			m = map[string]any{}
		}
		return m, nil
	case TOML:
		var m map[string]any
		if err := toml.Unmarshal([]byte(content), &m); err != nil {
			return nil, errs.Wrap(errs.ParseFailed, "failed to parse toml frontmatter", err)
		}
		if m == nil {
			m = map[string]any{}
		}
		return m, nil
	default:
		return decodeFallback(content), nil
	}
}

// decodeFallback is the line-oriented scalar parser used when no decoder
// library applies: one `key: value` or `key = value` pair per line,
// decoding booleans, signed integers, signed floats, and single/double
// quoted strings; anything else is kept as a raw trimmed string.
func decodeFallback(content string) map[string]any {
	out := map[string]any{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitFallbackLine(line)
		if !ok {
			continue
		}
		out[key] = decodeFallbackScalar(value)
	}
	return out
}

func splitFallbackLine(line string) (key, value string, ok bool) {
	if idx := strings.Index(line, ":"); idx != -1 {
		return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
	}
	if idx := strings.Index(line, "="); idx != -1 {
		return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
	}
	return "", "", false
}

func decodeFallbackScalar(raw string) any {
	if raw == "" {
		return ""
	}
	if (strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`)) ||
		(strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'")) {
		if len(raw) >= 2 {
			return raw[1 : len(raw)-1]
		}
		return ""
	}
	if raw == "true" {
		return true
	}
	if raw == "false" {
		return false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// Serialize renders a frontmatter map plus body into the complete document
// text, sorting keys by string form and quoting scalar values per the
// target syntax. When fm is empty and EmitEmptyFrontmatter is false, the
// delimiters are omitted entirely.
func Serialize(fm map[string]any, body string, opts SerializeOptions) (string, *errs.Error) {
	syntax := opts.Syntax
	if syntax == Unknown {
		syntax = YAML
	}
	delim, ok := delimiterFor[syntax]
	if !ok {
		return "", errs.New(errs.ValidationFailed, fmt.Sprintf("unsupported frontmatter syntax %q", syntax))
	}

	var out strings.Builder
	if len(fm) > 0 || opts.EmitEmptyFrontmatter {
		out.WriteString(delim)
		out.WriteString("\n")
		keys := sortedKeys(fm)
		for _, k := range keys {
			line, err := serializeEntry(k, fm[k], syntax)
			if err != nil {
				return "", err
			}
			out.WriteString(line)
			out.WriteString("\n")
		}
		out.WriteString(delim)
		out.WriteString("\n")
	}
	out.WriteString(body)

	return canonicalize(out.String(), opts), nil
}

func sortedKeys(fm map[string]any) []string {
	keys := make([]string, 0, len(fm))
	for k := range fm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func serializeEntry(key string, value any, syntax Syntax) (string, *errs.Error) {
	sep := ": "
	if syntax == TOML {
		sep = " = "
	}
	rendered, err := serializeScalar(value)
	if err != nil {
		return "", err
	}
	return key + sep + rendered, nil
}

func serializeScalar(value any) (string, *errs.Error) {
	switch v := value.(type) {
	case nil:
		return `""`, nil
	case string:
		return quoteString(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			p, err := serializeScalar(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, p)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		return "", errs.New(errs.ValidationFailed, fmt.Sprintf("unsupported frontmatter value type %T", value))
	}
}

func quoteString(s string) string {
	escaped := strings.ReplaceAll(s, `"`, `\"`)
	return `"` + escaped + `"`
}

func canonicalize(text string, opts SerializeOptions) string {
	if opts.LineEndings == LineEndingsLF {
		text = strings.ReplaceAll(text, "\r\n", "\n")
	}
	if opts.TrailingWhitespace == TrailingWhitespaceTrim {
		lines := strings.Split(text, "\n")
		for i, l := range lines {
			lines[i] = strings.TrimRight(l, " \t")
		}
		text = strings.Join(lines, "\n")
	}
	return text
}
