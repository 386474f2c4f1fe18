package llm

import (
	"fmt"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:starlark|python|py)?\\s*\\n(.*?)```")

// ExtractCode pulls the program out of a model response. It prefers the first
// fenced code block; bare responses are accepted only if they look like code
// (at least one assignment), since models sometimes skip the fences.
func ExtractCode(text string) (string, error) {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		code := strings.TrimSpace(m[1])
		if code == "" {
			return "", fmt.Errorf("empty code block in response")
		}
		return code, nil
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", fmt.Errorf("empty response")
	}
	if strings.Contains(trimmed, "=") {
		return trimmed, nil
	}
	return "", fmt.Errorf("response contains no code")
}
