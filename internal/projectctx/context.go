// Package projectctx loads the project knowledge handed to agents with each
// task: rules, wiki pages, skills and a cached summary of the codebase.
package projectctx

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/francisykl/qoder-cli-orchestrator/internal/cache"
	"github.com/francisykl/qoder-cli-orchestrator/internal/fsutil"
	"github.com/francisykl/qoder-cli-orchestrator/internal/scheduler"
)

// Locations relative to the project root.
const (
	RulesFile = ".qoder/rules.md"
	WikiDir   = ".qoder/wiki"
	SkillsDir = ".qoder/skills"
	SkillFile = "SKILL.md"
)

// maxWikiMatches bounds the pages picked by keyword overlap.
const maxWikiMatches = 2

// Analyzer produces a codebase summary. *planner.Planner implements it.
type Analyzer interface {
	AnalyzeCodebase(ctx context.Context, dir string) (string, error)
}

// Revision reports the current code revision; the summary cache is keyed on
// it. *vcs.Git implements it.
type Revision interface {
	Head(ctx context.Context) (string, error)
}

// Store holds the project's rules, wiki and skills. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	dir      string
	cache    *cache.Cache[string]
	analyzer Analyzer
	revision Revision

	rules  string
	wiki   map[string]string
	skills map[string]string
}

// Load reads rules, wiki pages and skills under dir. Missing files are not an
// error. c, analyzer and rev may be nil.
func Load(dir string, c *cache.Cache[string], analyzer Analyzer, rev Revision) (*Store, error) {
	s := &Store{
		dir:      dir,
		cache:    c,
		analyzer: analyzer,
		revision: rev,
		wiki:     make(map[string]string),
		skills:   make(map[string]string),
	}

	if data, err := os.ReadFile(filepath.Join(dir, RulesFile)); err == nil {
		s.rules = string(data)
		log.Printf("INFO: loaded project rules")
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	pages, err := filepath.Glob(filepath.Join(dir, WikiDir, "*.md"))
	if err != nil {
		return nil, fmt.Errorf("failed to list wiki: %w", err)
	}
	for _, p := range pages {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read wiki page %s: %w", p, err)
		}
		s.wiki[strings.TrimSuffix(filepath.Base(p), ".md")] = string(data)
	}
	if len(s.wiki) > 0 {
		log.Printf("INFO: loaded %d wiki pages", len(s.wiki))
	}

	entries, err := os.ReadDir(filepath.Join(dir, SkillsDir))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to list skills: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, SkillsDir, e.Name(), SkillFile))
		if err != nil {
			continue
		}
		s.skills[e.Name()] = string(data)
	}
	if len(s.skills) > 0 {
		log.Printf("INFO: loaded %d skills", len(s.skills))
	}

	return s, nil
}

// Rules returns the project rules.
func (s *Store) Rules() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

// RelevantWiki returns the pages relevant to t. Pages whose name contains
// the task's component win; otherwise the pages sharing the most keywords
// with the description are used.
func (s *Store) RelevantWiki(t *scheduler.Task) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relevantWikiLocked(t)
}

func (s *Store) relevantWikiLocked(t *scheduler.Task) []string {
	component := strings.ToLower(t.Component)
	var byName []string
	if component != "" && component != scheduler.DefaultComponent {
		for _, name := range sortedKeys(s.wiki) {
			if strings.Contains(strings.ToLower(name), component) {
				byName = append(byName, name)
			}
		}
	}
	if len(byName) > 0 {
		return byName
	}

	words := keywords(t.Description)
	if len(words) == 0 {
		return nil
	}
	type scored struct {
		name  string
		score int
	}
	var ranked []scored
	for _, name := range sortedKeys(s.wiki) {
		page := keywords(name + " " + s.wiki[name])
		n := 0
		for w := range words {
			if page[w] {
				n++
			}
		}
		if n > 0 {
			ranked = append(ranked, scored{name, n})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var out []string
	for i := 0; i < len(ranked) && i < maxWikiMatches; i++ {
		out = append(out, ranked[i].name)
	}
	return out
}

// ForTask assembles the context block for t: rules, relevant wiki pages and
// the skill named after the task's subagent.
func (s *Store) ForTask(t *scheduler.Task) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var parts []string
	if s.rules != "" {
		parts = append(parts, "# Project Rules\n"+s.rules)
	}

	var pages []string
	for _, name := range s.relevantWikiLocked(t) {
		pages = append(pages, fmt.Sprintf("## Wiki: %s\n%s", name, s.wiki[name]))
	}
	if len(pages) > 0 {
		parts = append(parts, "# Relevant Wiki Pages\n"+strings.Join(pages, "\n\n"))
	}

	if skill, ok := s.skills[t.Subagent]; ok {
		parts = append(parts, fmt.Sprintf("# Skill: %s\n%s", t.Subagent, skill))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// Summary returns the codebase summary, asking the analyzer only on a cache
// miss. Failures are logged and yield "".
func (s *Store) Summary(ctx context.Context) string {
	if s.analyzer == nil {
		return ""
	}
	rev := ""
	if s.revision != nil {
		if head, err := s.revision.Head(ctx); err == nil {
			rev = head
		}
	}

	if s.cache != nil {
		if v, ok := s.cache.Get("codebase_summary", s.dir, rev); ok {
			return v
		}
	}

	summary, err := s.analyzer.AnalyzeCodebase(ctx, s.dir)
	if err != nil {
		log.Printf("WARNING: codebase analysis failed: %v", err)
		return ""
	}
	if s.cache != nil && summary != "" {
		s.cache.Put(summary, "codebase_summary", s.dir, rev)
	}
	return summary
}

// maxDeviationExcerpt bounds the task output kept in a changes page.
const maxDeviationExcerpt = 2000

// ChangesPage names the wiki page collecting approach changes for a
// component. The name contains the component, so later tasks of that
// component receive it with their context.
func ChangesPage(component string) string {
	component = strings.ToLower(strings.TrimSpace(component))
	if component == "" {
		component = scheduler.DefaultComponent
	}
	return component + "-changes"
}

// RecordDeviation appends the output of a task that departed from the
// documented approach to its component's changes page.
func (s *Store) RecordDeviation(t *scheduler.Task, marker, output string) error {
	name := ChangesPage(t.Component)

	s.mu.RLock()
	page := s.wiki[name]
	s.mu.RUnlock()
	if page == "" {
		page = fmt.Sprintf("# Approach changes: %s\n", strings.TrimSuffix(name, "-changes"))
	}

	excerpt := strings.TrimSpace(output)
	if len(excerpt) > maxDeviationExcerpt {
		excerpt = excerpt[:maxDeviationExcerpt] + "\n..."
	}
	page += fmt.Sprintf("\n## %s: %s\n\nReported %q.\n\n%s\n", t.ID, t.Description, marker, excerpt)

	return s.UpdateWiki(name, page, fmt.Sprintf("task %s reported %q", t.ID, marker))
}

// UpdateWiki writes a wiki page and keeps the in-memory copy current.
func (s *Store) UpdateWiki(name, content, reason string) error {
	path := filepath.Join(s.dir, WikiDir, name+".md")
	if err := fsutil.AtomicWrite(path, []byte(content)); err != nil {
		return fmt.Errorf("failed to update wiki page %s: %w", name, err)
	}
	s.mu.Lock()
	s.wiki[name] = content
	s.mu.Unlock()
	log.Printf("INFO: updated wiki page %q: %s", name, reason)
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "into": true, "all": true, "add": true,
}

// keywords returns the lower-cased words of s longer than two characters.
func keywords(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(w) > 2 && !stopWords[w] {
			words[w] = true
		}
	}
	return words
}
