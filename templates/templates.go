// Package templates provides the texts posted when warning about and
// archiving channels.
package templates

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed warning.txt
var defaultWarning string

//go:embed closure.txt
var defaultClosure string

// Texts are the message bodies used by the warn and archive workflows.
type Texts struct {
	Warning string
	Closure string
}

// Default returns the embedded texts.
func Default() Texts {
	return Texts{
		Warning: strings.TrimSpace(defaultWarning),
		Closure: strings.TrimSpace(defaultClosure),
	}
}

// Load returns the embedded texts, replacing each with the contents of its
// file when a path is given.
func Load(warningPath, closurePath string) (Texts, error) {
	t := Default()
	if warningPath != "" {
		s, err := readText(warningPath)
		if err != nil {
			return Texts{}, err
		}
		t.Warning = s
	}
	if closurePath != "" {
		s, err := readText(closurePath)
		if err != nil {
			return Texts{}, err
		}
		t.Closure = s
	}
	return t, nil
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "", fmt.Errorf("template %s is empty", path)
	}
	return s, nil
}
