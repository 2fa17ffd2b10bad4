// Package page extracts normalized text and discovered targets from
// fetched HTML.
package page

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/goacyber/scamhound/internal/pipeline"
)

// Elements that never contribute visible text.
const strippedSelector = "script,style,noscript,header,footer,nav,svg,form,iframe"

// Config bounds extractor output.
type Config struct {
	// MaxTextLen truncates the normalized body (runes). Zero means the
	// default of 20000.
	MaxTextLen int
	// MaxDiscoveries caps links harvested per page. Zero means 200.
	MaxDiscoveries int
}

// Extractor implements pipeline.Extractor for HTML pages.
type Extractor struct {
	cfg Config
}

// New builds a page Extractor.
func New(cfg Config) *Extractor {
	if cfg.MaxTextLen <= 0 {
		cfg.MaxTextLen = 20000
	}
	if cfg.MaxDiscoveries <= 0 {
		cfg.MaxDiscoveries = 200
	}
	return &Extractor{cfg: cfg}
}

// Extract parses the document, strips non-content elements, and returns
// the visible text plus canonicalized link discoveries. Links to t.me
// become channel discoveries; everything else stays a page.
func (e *Extractor) Extract(content []byte, target pipeline.Target) (pipeline.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return pipeline.Extraction{}, fmt.Errorf("parse html: %w", err)
	}

	doc.Find(strippedSelector).Remove()

	text := normalizeText(doc.Text(), e.cfg.MaxTextLen)
	discovered := e.harvestLinks(doc, target)

	return pipeline.Extraction{Text: text, Discovered: discovered}, nil
}

func (e *Extractor) harvestLinks(doc *goquery.Document, target pipeline.Target) []pipeline.Discovery {
	base, err := url.Parse(target.Identifier)
	if err != nil {
		base = nil
	}

	seen := make(map[string]struct{})
	var discovered []pipeline.Discovery
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		d, ok := resolveLink(base, href)
		if !ok {
			return true
		}
		if d.Identifier == target.Identifier {
			return true
		}
		if _, dup := seen[d.Identifier]; dup {
			return true
		}
		seen[d.Identifier] = struct{}{}
		discovered = append(discovered, d)
		return len(discovered) < e.cfg.MaxDiscoveries
	})
	return discovered
}

func resolveLink(base *url.URL, href string) (pipeline.Discovery, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "tel:") {
		return pipeline.Discovery{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return pipeline.Discovery{}, false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return pipeline.Discovery{}, false
	}

	if strings.EqualFold(ref.Hostname(), "t.me") {
		id, err := pipeline.Canonicalize(strings.TrimPrefix(ref.Path, "/"), pipeline.KindChannel)
		if err != nil {
			return pipeline.Discovery{}, false
		}
		return pipeline.Discovery{Identifier: id, Kind: pipeline.KindChannel}, true
	}

	id, err := pipeline.Canonicalize(ref.String(), pipeline.KindPage)
	if err != nil {
		return pipeline.Discovery{}, false
	}
	return pipeline.Discovery{Identifier: id, Kind: pipeline.KindPage}, true
}

// normalizeText collapses the document text into trimmed, non-empty
// lines, truncated to the configured length.
func normalizeText(raw string, maxLen int) string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	text := strings.Join(lines, "\n")
	runes := []rune(text)
	if len(runes) > maxLen {
		text = string(runes[:maxLen])
	}
	return text
}
