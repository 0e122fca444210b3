package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ScriptExt is the extension of files picked up from the scripts directory.
const ScriptExt = ".js"

// Source is one script file as read at load time.
type Source struct {
	Name    string
	Path    string
	Text    string
	Enabled bool
}

// LoadSources reads every script in dir, sorted by file name. A file whose
// name appears in disabled (exact match) is returned with Enabled=false so the
// caller can report it.
func LoadSources(dir string, disabled []string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts directory %s: %w", dir, err)
	}

	var sources []Source
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ScriptExt) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read script %s: %w", e.Name(), err)
		}
		sources = append(sources, Source{
			Name:    e.Name(),
			Path:    path,
			Text:    string(data),
			Enabled: !slices.Contains(disabled, e.Name()),
		})
	}
	// os.ReadDir already sorts by name; keep it explicit since load order is
	// what decides duplicate command names.
	slices.SortFunc(sources, func(a, b Source) int { return strings.Compare(a.Name, b.Name) })
	return sources, nil
}
