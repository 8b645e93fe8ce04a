package classify

import (
	"testing"

	"focusline/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default("test")
	cfg.Apps = map[string]string{
		"code":        "development",
		"chrome":      "browsing",
		"chrome-docs": "documents",
		"slack":       "communication",
	}
	return cfg
}

func TestCategorize(t *testing.T) {
	r := NewRules(testConfig(), "", nil)
	cases := []struct {
		app, title, want string
	}{
		{"Code", "main.go", "development"},
		{"chrome", "news", "browsing"},
		{"chrome-docs", "design doc", "documents"}, // longest match wins
		{"Slack", "#general", "communication"},
		{"blender", "untitled", Uncategorized},
		{"terminal", "slack logs", "communication"}, // title fallback
	}
	for _, c := range cases {
		if got := r.Categorize(c.app, c.title); got != c.want {
			t.Errorf("Categorize(%q, %q) = %q, want %q", c.app, c.title, got, c.want)
		}
	}
}

func TestApplyReplacesRules(t *testing.T) {
	cfg := testConfig()
	r := NewRules(cfg, "", nil)
	if got := r.Categorize("code", ""); got != "development" {
		t.Fatalf("got %q", got)
	}
	cfg.Apps = map[string]string{"code": "editing"}
	r.apply(cfg)
	if got := r.Categorize("code", ""); got != "editing" {
		t.Fatalf("after reload got %q, want editing", got)
	}
}
