package llm

import "strings"

// ExtractJSON pulls the JSON document out of a model reply. Models wrap
// structured output in markdown fences or surround it with prose; this
// strips both and returns the outermost object or array. When no JSON
// shape is present the trimmed reply comes back unchanged so the caller's
// decoder can report it.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		if inner, ok := insideFence(s); ok {
			s = strings.TrimSpace(inner)
		}
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndexByte(s, '}')
	} else {
		end = strings.LastIndexByte(s, ']')
	}
	if end <= start {
		return s
	}
	return s[start : end+1]
}

// insideFence returns the content between the first pair of ``` fences,
// dropping the language tag on the opening line.
func insideFence(s string) (string, bool) {
	rest := strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[i+1:]
	} else {
		return "", false
	}
	if i := strings.Index(rest, "```"); i >= 0 {
		return rest[:i], true
	}
	return rest, true
}
