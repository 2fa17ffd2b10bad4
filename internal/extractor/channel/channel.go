// Package channel extracts normalized text and discovered targets from
// channel message batches fetched through the gateway.
package channel

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/goacyber/scamhound/internal/pipeline"
)

var (
	mentionPattern = regexp.MustCompile(`(?i)(?:@|t\.me/)([A-Za-z0-9_]{3,32})`)
	urlPattern     = regexp.MustCompile(`https?://[^\s<>"']+`)
)

// Config bounds extractor output.
type Config struct {
	// MaxTextLen truncates the joined message body (runes). Zero means the
	// default of 20000.
	MaxTextLen int
	// MaxDiscoveries caps identifiers harvested per batch. Zero means 200.
	MaxDiscoveries int
}

// Extractor implements pipeline.Extractor for channel message batches.
type Extractor struct {
	cfg Config
}

// New builds a channel Extractor.
func New(cfg Config) *Extractor {
	if cfg.MaxTextLen <= 0 {
		cfg.MaxTextLen = 20000
	}
	if cfg.MaxDiscoveries <= 0 {
		cfg.MaxDiscoveries = 200
	}
	return &Extractor{cfg: cfg}
}

type messageBatch struct {
	Messages []struct {
		Text string `json:"text"`
	} `json:"messages"`
}

// Extract decodes the gateway batch, joins non-empty message texts, and
// harvests @mentions, t.me links, and plain URLs as discoveries.
func (e *Extractor) Extract(content []byte, target pipeline.Target) (pipeline.Extraction, error) {
	var batch messageBatch
	if err := json.Unmarshal(content, &batch); err != nil {
		return pipeline.Extraction{}, fmt.Errorf("decode message batch: %w", err)
	}

	var lines []string
	for _, m := range batch.Messages {
		text := strings.TrimSpace(m.Text)
		if text != "" {
			lines = append(lines, text)
		}
	}
	text := strings.Join(lines, "\n")
	runes := []rune(text)
	if len(runes) > e.cfg.MaxTextLen {
		text = string(runes[:e.cfg.MaxTextLen])
	}

	return pipeline.Extraction{
		Text:       text,
		Discovered: e.harvest(text, target),
	}, nil
}

func (e *Extractor) harvest(text string, target pipeline.Target) []pipeline.Discovery {
	seen := make(map[string]struct{})
	var discovered []pipeline.Discovery

	add := func(identifier string, kind pipeline.TargetKind) bool {
		if identifier == target.Identifier {
			return true
		}
		if _, dup := seen[identifier]; dup {
			return true
		}
		seen[identifier] = struct{}{}
		discovered = append(discovered, pipeline.Discovery{Identifier: identifier, Kind: kind})
		return len(discovered) < e.cfg.MaxDiscoveries
	}

	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		id, err := pipeline.Canonicalize(m[1], pipeline.KindChannel)
		if err != nil {
			continue
		}
		if !add(id, pipeline.KindChannel) {
			return discovered
		}
	}

	for _, raw := range urlPattern.FindAllString(text, -1) {
		raw = strings.TrimRight(raw, ".,;:!?)")
		if host := hostOf(raw); strings.EqualFold(host, "t.me") {
			continue
		}
		id, err := pipeline.Canonicalize(raw, pipeline.KindPage)
		if err != nil {
			continue
		}
		if !add(id, pipeline.KindPage) {
			return discovered
		}
	}
	return discovered
}

func hostOf(raw string) string {
	rest := raw
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
