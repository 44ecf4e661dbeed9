package feed

import (
	"strings"
	"testing"
)

func TestGenerateIDDeterministic(t *testing.T) {
	first := GenerateID("zotero", "Attention Is All You Need", "2026-02-01")
	second := GenerateID("zotero", "Attention Is All You Need", "2026-02-01")

	if first != second {
		t.Errorf("Expected identical IDs, got %s and %s", first, second)
	}
}

func TestGenerateIDFormat(t *testing.T) {
	id := GenerateID("newsletter", "Some Title", "2026-02-01")

	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 {
		t.Fatalf("Expected '{source_type}:{prefix}' format, got %s", id)
	}
	if parts[0] != "newsletter" {
		t.Errorf("Expected source type 'newsletter', got %s", parts[0])
	}
	if len(parts[1]) != 16 {
		t.Errorf("Expected 16 hex character prefix, got %d characters", len(parts[1]))
	}
	for _, c := range parts[1] {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("Expected lowercase hex prefix, got %s", parts[1])
			break
		}
	}
}

func TestGenerateIDNormalizesTitle(t *testing.T) {
	base := GenerateID("newsletter", "ai news", "2026-02-01")

	variants := []string{
		"  AI News  ",
		"AI News",
		"ai   news",
		"AI\tNews",
	}
	for _, variant := range variants {
		if got := GenerateID("newsletter", variant, "2026-02-01"); got != base {
			t.Errorf("Expected %q to normalize to same ID as 'ai news', got %s vs %s", variant, got, base)
		}
	}
}

func TestGenerateIDDistinguishesContent(t *testing.T) {
	a := GenerateID("zotero", "Paper One", "2026-02-01")
	b := GenerateID("zotero", "Paper Two", "2026-02-01")
	c := GenerateID("zotero", "Paper One", "2026-02-02")
	d := GenerateID("newsletter", "Paper One", "2026-02-01")

	ids := map[string]bool{a: true, b: true, c: true, d: true}
	if len(ids) != 4 {
		t.Errorf("Expected 4 distinct IDs, got %d: %v", len(ids), ids)
	}
}

func TestGenerateIDUnicodeNormalization(t *testing.T) {
	// "é" precomposed (U+00E9) vs "e" plus combining acute (U+0301)
	precomposed := GenerateID("rss", "caf\u00e9 review", "2026-02-01")
	combining := GenerateID("rss", "cafe\u0301 review", "2026-02-01")

	if precomposed != combining {
		t.Errorf("Expected NFC-equivalent titles to share an ID, got %s and %s", precomposed, combining)
	}
}
