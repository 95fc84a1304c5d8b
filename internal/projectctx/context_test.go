package projectctx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/francisykl/qoder-cli-orchestrator/internal/cache"
	"github.com/francisykl/qoder-cli-orchestrator/internal/scheduler"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func setupProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, RulesFile), "Always run gofmt.")
	writeFile(t, filepath.Join(dir, WikiDir, "backend-api.md"), "Handlers live in internal/http.")
	writeFile(t, filepath.Join(dir, WikiDir, "payments.md"), "Stripe invoices are reconciled nightly.")
	writeFile(t, filepath.Join(dir, WikiDir, "frontend.md"), "React with hooks.")
	writeFile(t, filepath.Join(dir, SkillsDir, "testing-specialist", SkillFile), "Use table-driven tests.")
	writeFile(t, filepath.Join(dir, SkillsDir, "empty", "README.md"), "no skill file")
	return dir
}

type countingAnalyzer struct {
	calls   int
	summary string
	err     error
}

func (a *countingAnalyzer) AnalyzeCodebase(ctx context.Context, dir string) (string, error) {
	a.calls++
	return a.summary, a.err
}

type fixedRevision string

func (r fixedRevision) Head(ctx context.Context) (string, error) { return string(r), nil }

func TestLoad(t *testing.T) {
	s, err := Load(setupProject(t), nil, nil, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Rules() != "Always run gofmt." {
		t.Errorf("rules = %q", s.Rules())
	}
	if got := strings.Join(sortedKeys(s.wiki), ","); got != "backend-api,frontend,payments" {
		t.Errorf("wiki = %s", got)
	}
	if got := strings.Join(sortedKeys(s.skills), ","); got != "testing-specialist" {
		t.Errorf("skills = %s", got)
	}
}

func TestLoad_EmptyProject(t *testing.T) {
	s, err := Load(t.TempDir(), nil, nil, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	task := &scheduler.Task{ID: "a", Description: "anything", Component: "backend"}
	if got := s.ForTask(task); got != "" {
		t.Errorf("ForTask = %q, want empty", got)
	}
}

func TestRelevantWiki(t *testing.T) {
	s, err := Load(setupProject(t), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		task scheduler.Task
		want string
	}{
		{"component match", scheduler.Task{Component: "backend", Description: "stripe invoices"}, "backend-api"},
		{"keyword fallback", scheduler.Task{Component: "general", Description: "Reconcile Stripe invoices"}, "payments"},
		{"no overlap", scheduler.Task{Component: "docs", Description: "zzz qqq"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(s.RelevantWiki(&tt.task), ",")
			if got != tt.want {
				t.Errorf("RelevantWiki = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestForTask(t *testing.T) {
	s, err := Load(setupProject(t), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	got := s.ForTask(&scheduler.Task{
		Description: "Cover the handlers",
		Component:   "backend",
		Subagent:    scheduler.SubagentTesting,
	})
	for _, want := range []string{
		"# Project Rules\nAlways run gofmt.",
		"## Wiki: backend-api\nHandlers live in internal/http.",
		"# Skill: testing-specialist\nUse table-driven tests.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("context missing %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "\n\n---\n\n") != 2 {
		t.Errorf("expected three sections:\n%s", got)
	}
}

func TestSummary_Cached(t *testing.T) {
	dir := t.TempDir()
	c := cache.New[string](cache.Options{Enabled: true, MaxBytes: 1 << 20})
	a := &countingAnalyzer{summary: "a Go CLI"}

	s, err := Load(dir, c, a, fixedRevision("abc"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if got := s.Summary(context.Background()); got != "a Go CLI" {
			t.Fatalf("Summary = %q", got)
		}
	}
	if a.calls != 1 {
		t.Errorf("analyzer called %d times, want 1", a.calls)
	}

	// A new revision misses the cache.
	s2, _ := Load(dir, c, a, fixedRevision("def"))
	s2.Summary(context.Background())
	if a.calls != 2 {
		t.Errorf("analyzer called %d times after revision change, want 2", a.calls)
	}
}

func TestSummary_Failure(t *testing.T) {
	a := &countingAnalyzer{err: errors.New("agent down")}
	c := cache.New[string](cache.Options{Enabled: true, MaxBytes: 1 << 20})
	s, _ := Load(t.TempDir(), c, a, nil)

	if got := s.Summary(context.Background()); got != "" {
		t.Errorf("Summary = %q, want empty on failure", got)
	}
	if c.Len() != 0 {
		t.Error("failure was cached")
	}

	noAnalyzer, _ := Load(t.TempDir(), nil, nil, nil)
	if got := noAnalyzer.Summary(context.Background()); got != "" {
		t.Errorf("Summary without analyzer = %q", got)
	}
}

func TestRecordDeviation(t *testing.T) {
	dir := t.TempDir()
	s, _ := Load(dir, nil, nil, nil)

	first := &scheduler.Task{ID: "a", Description: "Build users API", Component: "Backend"}
	second := &scheduler.Task{ID: "b", Description: "Build orders API", Component: "backend"}
	if err := s.RecordDeviation(first, "new pattern", "Switched to the chi router."); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordDeviation(second, "different approach", "Orders use optimistic locking."); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, WikiDir, "backend-changes.md")); err != nil {
		t.Fatalf("changes page not written: %v", err)
	}

	reloaded, err := Load(dir, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctxText := reloaded.ForTask(&scheduler.Task{ID: "c", Description: "Build carts API", Component: "backend"})
	for _, want := range []string{"Wiki: backend-changes", "## a: Build users API", "Switched to the chi router.", "## b: Build orders API", "optimistic locking"} {
		if !strings.Contains(ctxText, want) {
			t.Errorf("context missing %q:\n%s", want, ctxText)
		}
	}
}

func TestChangesPage(t *testing.T) {
	if got := ChangesPage(" API "); got != "api-changes" {
		t.Errorf("ChangesPage = %q", got)
	}
	if got := ChangesPage(""); got != "general-changes" {
		t.Errorf("ChangesPage(empty) = %q", got)
	}
}

func TestDeviation(t *testing.T) {
	tests := []struct {
		output string
		want   string
		ok     bool
	}{
		{"Implemented as documented.", "", false},
		{"I took a Different Approach for caching.", "different approach", true},
		{"Note: deviation from the wiki pattern", "deviation from", true},
	}
	for _, tt := range tests {
		got, ok := Deviation(tt.output)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Deviation(%q) = %q, %v; want %q, %v", tt.output, got, ok, tt.want, tt.ok)
		}
	}
}
