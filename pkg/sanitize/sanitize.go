// Package sanitize cleans and validates untrusted values before they are
// used or logged: HTML markup, filesystem paths, numeric inputs, and
// arbitrary structures headed for a log sink.
package sanitize

import (
	"fmt"
	"html"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/asksonar/perplexity-mcp/pkg/faults"
	"github.com/asksonar/perplexity-mcp/pkg/reqctx"
)

// allowedTags is the closed set of formatting tags HTML keeps. Everything
// else is stripped, its text content preserved.
var allowedTags = map[string]bool{
	"a": true, "b": true, "blockquote": true, "br": true, "code": true,
	"em": true, "i": true, "li": true, "ol": true, "p": true, "pre": true,
	"strong": true, "u": true, "ul": true,
}

// allowedAttrs maps a tag to the attributes it may carry.
var allowedAttrs = map[string]map[string]bool{
	"a": {"href": true, "title": true},
}

var (
	// Script and style elements are removed with their content.
	scriptPattern  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	stylePattern   = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	commentPattern = regexp.MustCompile(`(?s)<!--.*?-->`)

	tagPattern  = regexp.MustCompile(`(?s)<\s*(/?)\s*([a-zA-Z][a-zA-Z0-9]*)((?:[^>"']|"[^"]*"|'[^']*')*?)\s*/?>`)
	attrPattern = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9-]*)\s*=\s*("([^"]*)"|'([^']*)'|([^\s"'>]+))`)
)

// HTML strips all markup not in the allow-list of safe formatting tags,
// removes script/style elements with their content, drops on* event-handler
// attributes, and rejects javascript: URIs. Output is normalized (lowercase
// tags, double-quoted attributes) so sanitizing already-clean output returns
// it unchanged.
func HTML(input string) string {
	out := input

	// Block removal loops to a fixed point so reassembled fragments
	// (e.g. "<scr<script>ipt>") cannot survive a single pass.
	for {
		next := scriptPattern.ReplaceAllString(out, "")
		next = stylePattern.ReplaceAllString(next, "")
		next = commentPattern.ReplaceAllString(next, "")
		if next == out {
			break
		}
		out = next
	}

	return tagPattern.ReplaceAllStringFunc(out, rewriteTag)
}

func rewriteTag(raw string) string {
	m := tagPattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	closing := m[1] == "/"
	tag := strings.ToLower(m[2])
	attrs := m[3]

	if !allowedTags[tag] {
		return ""
	}
	if closing {
		return "</" + tag + ">"
	}

	var b strings.Builder
	b.WriteString("<")
	b.WriteString(tag)
	for _, am := range attrPattern.FindAllStringSubmatch(attrs, -1) {
		name := strings.ToLower(am[1])
		if !allowedAttrs[tag][name] || strings.HasPrefix(name, "on") {
			continue
		}
		value := am[3] + am[4] + am[5]
		if strings.ContainsAny(value, `"<>`) {
			continue
		}
		if name == "href" {
			// Check the decoded form: "javascript&#58;" is the same
			// live URI once a renderer decodes the entity.
			decoded := html.UnescapeString(value)
			if strings.ContainsAny(decoded, `"'<>`) || !safeURI(decoded) {
				continue
			}
		}
		// Raw write keeps the output byte-stable across repeated passes;
		// the value was already rejected if it contained quote characters.
		b.WriteString(" " + name + `="` + value + `"`)
	}
	b.WriteString(">")
	return b.String()
}

// safeURI accepts relative references and http/https/mailto schemes.
// Whitespace and control characters are removed before the scheme check so
// "java\tscript:" cannot slip through.
func safeURI(uri string) bool {
	cleaned := strings.Map(func(r rune) rune {
		if r <= ' ' {
			return -1
		}
		return r
	}, uri)
	lower := strings.ToLower(cleaned)

	colon := strings.Index(lower, ":")
	if colon < 0 {
		return true
	}
	switch lower[:colon] {
	case "http", "https", "mailto":
		return true
	}
	return false
}

// Path resolves input against root and fails with a validation error when
// the resolved path escapes root. ".." segments are normalized before the
// containment check, never after.
func Path(input, root string) (string, error) {
	if input == "" || strings.ContainsRune(input, 0) {
		return "", faults.New(faults.CodeValidation, "path must be a non-empty string without NUL bytes", reqctx.Context{})
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", faults.Wrap(err, faults.CodeValidation, "resolving root directory", reqctx.Context{})
	}

	var resolved string
	if filepath.IsAbs(input) {
		resolved = filepath.Clean(input)
	} else {
		resolved = filepath.Join(absRoot, input)
	}

	rel, err := filepath.Rel(absRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", faults.New(faults.CodeValidation,
			fmt.Sprintf("path %q escapes root directory", input), reqctx.Context{})
	}
	return resolved, nil
}

// Number parses a numeric value and clamps it into [min, max]. Clamping
// applies only to out-of-range values; unparsable input is a validation
// error, never silently coerced.
func Number(input any, min, max float64) (float64, error) {
	n, ok := parseNumber(input)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, faults.New(faults.CodeValidation,
			fmt.Sprintf("value %v is not numeric", input), reqctx.Context{})
	}
	if n < min {
		return min, nil
	}
	if n > max {
		return max, nil
	}
	return n, nil
}

func parseNumber(input any) (float64, bool) {
	switch v := input.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
