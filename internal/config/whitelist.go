package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Whitelist is the set of path patterns that bypass authentication
// entirely. Loaded once at startup; read-only afterwards.
type Whitelist struct {
	Patterns []string `yaml:"whitelist"`
}

// LoadWhitelist reads the whitelist pattern file. An empty path yields an
// empty whitelist: bypassing authentication is strictly opt-in.
func LoadWhitelist(path string) (*Whitelist, error) {
	if path == "" {
		return &Whitelist{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read whitelist file: %w", err)
	}

	return ParseWhitelist(data)
}

func ParseWhitelist(data []byte) (*Whitelist, error) {
	wl := &Whitelist{}
	err := yaml.Unmarshal(data, wl)
	if err != nil {
		return nil, fmt.Errorf("could not parse whitelist file: %w", err)
	}

	sanitizeWhitelist(wl)

	return wl, nil
}

func sanitizeWhitelist(wl *Whitelist) {
	patterns := make([]string, 0, len(wl.Patterns))
	for _, p := range wl.Patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		patterns = append(patterns, p)
	}
	wl.Patterns = patterns
}
