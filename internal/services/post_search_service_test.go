package services

import (
	"strings"
	"testing"

	"kalem/internal/models"
)

func TestSearchPattern(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"plain words", "golang concurrency patterns", "golang|concurrency|patterns"},
		{"short words dropped", "go on to the testing part", "the|testing|part"},
		{"punctuation stripped", "what is dependency injection?", "what|dependency|injection"},
		{"regex metacharacters escaped", "c++ templates (advanced)", `c\+\+|templates|advanced`},
		{"turkish words", "yazılım mimarisi hakkında", "yazılım|mimarisi|hakkında"},
		{"all words too short", "a b", "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := searchPattern(tt.query); got != tt.want {
				t.Errorf("searchPattern(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestPromoteNamedCategory(t *testing.T) {
	items := []models.PostExcerpt{
		{Title: "One", Category: "travel"},
		{Title: "Two", Category: "golang"},
		{Title: "Three", Category: "travel"},
		{Title: "Four", Category: "golang"},
	}

	got := promoteNamedCategory("any good golang posts?", items)

	wantOrder := []string{"Two", "Four", "One", "Three"}
	for i, title := range wantOrder {
		if got[i].Title != title {
			t.Fatalf("position %d: expected %q, got %q", i, title, got[i].Title)
		}
	}
}

func TestPromoteNamedCategoryNoMatchKeepsOrder(t *testing.T) {
	items := []models.PostExcerpt{
		{Title: "One", Category: "travel"},
		{Title: "Two", Category: "golang"},
	}

	got := promoteNamedCategory("what should I read today", items)
	if got[0].Title != "One" || got[1].Title != "Two" {
		t.Error("order must be untouched when no category is named")
	}
}

func TestPostExcerptPrefersStoredExcerpt(t *testing.T) {
	withExcerpt := models.Post{Excerpt: "hand-written summary", Content: "full body"}
	if got := postExcerpt(withExcerpt); got != "hand-written summary" {
		t.Errorf("expected the stored excerpt, got %q", got)
	}

	long := models.Post{Content: strings.Repeat("0123456789", 50)}
	if got := postExcerpt(long); len([]rune(got)) != 200 {
		t.Errorf("expected a 200-rune excerpt from content, got %d runes", len([]rune(got)))
	}
}
