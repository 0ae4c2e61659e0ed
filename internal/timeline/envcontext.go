package timeline

import (
	"regexp"
	"sort"
	"strings"
)

const (
	envOpen  = "<environment_context>"
	envClose = "</environment_context>"
)

var envField = regexp.MustCompile(`(?s)<([A-Za-z_][\w-]*)>(.*?)</([A-Za-z_][\w-]*)>`)

// extractEnvironment splits an environment_context envelope out of text.
// It returns the parsed pairs, the text left once the envelope is removed,
// and whether an envelope was found.
func extractEnvironment(text string) (map[string]string, string, bool) {
	start := strings.Index(text, envOpen)
	if start < 0 {
		return nil, text, false
	}
	end := strings.Index(text[start:], envClose)
	if end < 0 {
		return nil, text, false
	}
	end += start
	body := text[start+len(envOpen) : end]

	pairs := map[string]string{}
	for _, m := range envField.FindAllStringSubmatch(body, -1) {
		if m[1] != m[3] {
			continue
		}
		pairs[m[1]] = strings.TrimSpace(m[2])
	}
	rest := strings.TrimSpace(text[:start] + text[end+len(envClose):])
	return pairs, rest, true
}

func renderPairs(pairs map[string]string) string {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(pairs[k])
	}
	return b.String()
}
