package utils

import (
	"html"
	"strings"
)

// blockTags are elements whose boundaries become line breaks when stripping,
// so "<p>a</p><p>b</p>" reads as two lines instead of "ab".
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true, "ul": true, "ol": true,
}

// StripHTML removes tags from an HTML fragment, decodes entities, and
// normalizes whitespace. Script and style bodies are dropped entirely.
func StripHTML(input string) string {
	var (
		b         strings.Builder
		inTag     bool
		tagName   strings.Builder
		skipUntil string
	)

	flushTag := func() {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tagName.String()), "/"))
		name = strings.TrimSuffix(name, "/")
		if i := strings.IndexAny(name, " \t\n"); i >= 0 {
			name = name[:i]
		}
		switch {
		case skipUntil != "":
			if strings.HasPrefix(tagName.String(), "/") && name == skipUntil {
				skipUntil = ""
			}
		case name == "script" || name == "style":
			skipUntil = name
		case blockTags[name]:
			b.WriteByte('\n')
		}
		tagName.Reset()
	}

	for _, r := range input {
		switch {
		case inTag:
			if r == '>' {
				inTag = false
				flushTag()
			} else {
				tagName.WriteRune(r)
			}
		case r == '<':
			inTag = true
		case skipUntil == "":
			b.WriteRune(r)
		}
	}

	return NormalizeWhitespace(html.UnescapeString(b.String()))
}

// NormalizeWhitespace collapses runs of spaces and tabs, trims each line, and
// collapses blank-line runs to a single blank line.
func NormalizeWhitespace(input string) string {
	lines := strings.Split(input, "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank {
				out = append(out, "")
				blank = true
			}
			continue
		}
		out = append(out, line)
		blank = false
	}
	// Drop a trailing blank line left by the loop.
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
