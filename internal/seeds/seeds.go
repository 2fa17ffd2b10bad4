// Package seeds loads the initial target list.
package seeds

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/goacyber/scamhound/internal/pipeline"
)

// LoadFile reads one identifier per line, canonicalized. Blank lines and
// # comments are skipped; "channel:" prefixes, @handles, and t.me links
// become channel targets.
func LoadFile(path string) ([]pipeline.Discovery, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seeds file: %w", err)
	}
	defer f.Close()

	var out []pipeline.Discovery
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		identifier, kind, err := pipeline.ParseIdentifier(raw)
		if err != nil {
			return nil, fmt.Errorf("seeds line %d: %w", line, err)
		}
		if _, dup := seen[identifier]; dup {
			continue
		}
		seen[identifier] = struct{}{}
		out = append(out, pipeline.Discovery{Identifier: identifier, Kind: kind})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read seeds file: %w", err)
	}
	return out, nil
}
