package sanitize

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/asksonar/perplexity-mcp/pkg/faults"
)

func TestHTML(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		contains    []string
		notContains []string
	}{
		{
			name:        "script tag removed with content",
			input:       `before<script>alert("xss")</script>after`,
			contains:    []string{"before", "after"},
			notContains: []string{"<script", "alert"},
		},
		{
			name:        "reassembled script removed",
			input:       `<scr<script></script>ipt>alert(1)</scr<script></script>ipt>`,
			notContains: []string{"<script"},
		},
		{
			name:        "event handler attribute dropped",
			input:       `<p onclick="steal()">text</p>`,
			contains:    []string{"<p>", "text"},
			notContains: []string{"onclick", "steal"},
		},
		{
			name:        "javascript URI dropped",
			input:       `<a href="javascript:alert(1)">link</a>`,
			contains:    []string{"<a>", "link"},
			notContains: []string{"javascript"},
		},
		{
			name:        "javascript URI with embedded whitespace dropped",
			input:       "<a href=\"java\tscript:alert(1)\">link</a>",
			contains:    []string{"<a>"},
			notContains: []string{"script:"},
		},
		{
			name:        "javascript URI with numeric entity colon dropped",
			input:       `<a href="javascript&#58;alert(1)">link</a>`,
			contains:    []string{"<a>", "link"},
			notContains: []string{"javascript"},
		},
		{
			name:        "javascript URI with named entity colon dropped",
			input:       `<a href="javascript&colon;alert(1)">link</a>`,
			contains:    []string{"<a>", "link"},
			notContains: []string{"javascript"},
		},
		{
			name:     "https link kept",
			input:    `<a href="https://example.com" title="Example">link</a>`,
			contains: []string{`href="https://example.com"`, `title="Example"`},
		},
		{
			name:        "disallowed tag stripped, text kept",
			input:       `<iframe src="https://evil.example">inner</iframe>`,
			contains:    []string{"inner"},
			notContains: []string{"<iframe", "src="},
		},
		{
			name:     "allowed formatting kept",
			input:    `<p><strong>bold</strong> and <em>italic</em></p>`,
			contains: []string{"<p>", "<strong>bold</strong>", "<em>italic</em>"},
		},
		{
			name:        "style block removed",
			input:       `<style>body{display:none}</style>visible`,
			contains:    []string{"visible"},
			notContains: []string{"display:none"},
		},
		{
			name:        "comment removed",
			input:       `a<!-- secret -->b`,
			contains:    []string{"ab"},
			notContains: []string{"secret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HTML(tt.input)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("HTML(%q) = %q; want it to contain %q", tt.input, got, want)
				}
			}
			for _, forbidden := range tt.notContains {
				if strings.Contains(got, forbidden) {
					t.Errorf("HTML(%q) = %q; must not contain %q", tt.input, got, forbidden)
				}
			}
		})
	}
}

func TestHTMLIdempotent(t *testing.T) {
	inputs := []string{
		`<p onclick="x()">hello <b>world</b></p>`,
		`<a href="https://example.com/a?b=c&d=e">link</a>`,
		`plain text without markup`,
		`<script>bad()</script><ul><li>one</li></ul>`,
		`<DIV CLASS="x"><A HREF="HTTP://UP.example">caps</A></DIV>`,
	}
	for _, input := range inputs {
		once := HTML(input)
		twice := HTML(once)
		if once != twice {
			t.Errorf("HTML not a fixed point for %q:\n first: %q\nsecond: %q", input, once, twice)
		}
	}
}

func TestPath(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple relative path", "notes/today.md", false},
		{"dot segments that stay inside", "a/b/../c.txt", false},
		{"root itself", ".", false},
		{"traversal escape", "../outside.txt", true},
		{"nested traversal escape", "a/../../outside.txt", true},
		{"absolute path outside root", "/etc/passwd", true},
		{"empty input", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Path(tt.input, root)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Path(%q, root) = %q; want validation error", tt.input, got)
				}
				if !faults.IsCode(err, faults.CodeValidation) {
					t.Errorf("Path(%q, root) error code = %v; want validation", tt.input, faults.CodeOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("Path(%q, root) unexpected error: %v", tt.input, err)
			}
			rel, relErr := filepath.Rel(root, got)
			if relErr != nil || strings.HasPrefix(rel, "..") {
				t.Errorf("Path(%q, root) = %q; not contained in root %q", tt.input, got, root)
			}
		})
	}
}

func TestPathAbsoluteInsideRoot(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "sub", "file.txt")

	got, err := Path(inside, root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != inside {
		t.Errorf("Path(%q) = %q; want unchanged", inside, got)
	}
}

func TestNumber(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		min, max float64
		want     float64
		wantErr  bool
	}{
		{"in-range string", "5", 0, 10, 5, false},
		{"float string", "3.25", 0, 10, 3.25, false},
		{"string with whitespace", " 7 ", 0, 10, 7, false},
		{"clamped below", "-3", 0, 10, 0, false},
		{"clamped above", "42", 0, 10, 10, false},
		{"int input", 8, 0, 10, 8, false},
		{"float input", 2.5, 0, 10, 2.5, false},
		{"not numeric", "five", 0, 10, 0, true},
		{"empty string", "", 0, 10, 0, true},
		{"nil input", nil, 0, 10, 0, true},
		{"boolean input", true, 0, 10, 0, true},
		{"NaN string", "NaN", 0, 10, 0, true},
		{"infinity string", "Inf", 0, 10, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Number(tt.input, tt.min, tt.max)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Number(%v) = %v; want validation error", tt.input, got)
				}
				if !faults.IsCode(err, faults.CodeValidation) {
					t.Errorf("Number(%v) error code = %v; want validation", tt.input, faults.CodeOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("Number(%v) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Number(%v, %v, %v) = %v; want %v", tt.input, tt.min, tt.max, got, tt.want)
			}
		})
	}
}
