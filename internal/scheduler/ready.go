package scheduler

import (
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Ready returns the pending tasks whose dependencies are all completed and
// whose file scope does not overlap the scope of any running task.
// Results keep the input order.
func Ready(tasks []*Task) []*Task {
	byID := make(map[string]*Task, len(tasks))
	var inFlight []string
	for _, t := range tasks {
		byID[t.ID] = t
		if t.Status == TaskRunning {
			inFlight = append(inFlight, t.FilesScope...)
		}
	}

	var ready []*Task
	for _, t := range tasks {
		if t.Status != TaskPending {
			continue
		}
		if !depsCompleted(t, byID) {
			continue
		}
		if ScopesOverlap(t.FilesScope, inFlight) {
			continue
		}
		ready = append(ready, t)
	}
	return ready
}

func depsCompleted(t *Task, byID map[string]*Task) bool {
	for _, depID := range t.DependsOn {
		dep, ok := byID[depID]
		if !ok || dep.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// Ready returns the ready set of the DAG, in insertion order.
func (d *DAG) Ready() []*Task {
	return Ready(d.Tasks())
}

// NextWave picks the tasks to dispatch in one round. It walks the ready set,
// optionally reordered by priority, and admits a task only if its scope is
// disjoint from running tasks and from every task already admitted to the
// wave. At most limit tasks are returned; limit <= 0 means unbounded.
func NextWave(tasks []*Task, limit int, priority []string) []*Task {
	ready := Ready(tasks)
	if len(priority) > 0 {
		rank := make(map[string]int, len(priority))
		for i, id := range priority {
			if _, seen := rank[id]; !seen {
				rank[id] = i
			}
		}
		sort.SliceStable(ready, func(i, j int) bool {
			ri, iok := rank[ready[i].ID]
			rj, jok := rank[ready[j].ID]
			switch {
			case iok && jok:
				return ri < rj
			case iok:
				return true
			default:
				return false
			}
		})
	}

	var claimed []string
	for _, t := range tasks {
		if t.Status == TaskRunning {
			claimed = append(claimed, t.FilesScope...)
		}
	}

	var wave []*Task
	for _, t := range ready {
		if limit > 0 && len(wave) >= limit {
			break
		}
		if ScopesOverlap(t.FilesScope, claimed) {
			continue
		}
		claimed = append(claimed, t.FilesScope...)
		wave = append(wave, t)
	}
	return wave
}

// ScopesOverlap reports whether any path in a overlaps any path in b.
func ScopesOverlap(a, b []string) bool {
	for _, pa := range a {
		for _, pb := range b {
			if PathsOverlap(pa, pb) {
				return true
			}
		}
	}
	return false
}

// PathsOverlap reports whether two file-scope entries can refer to the same
// file. Entries may be plain paths, directories or doublestar globs. Entries
// are compared segment by segment: a plain entry that runs out first is a
// directory holding the other, and "**" may match anything below it. When two
// wildcards meet in the same segment, overlap is assumed unless their literal
// ends rule it out.
func PathsOverlap(a, b string) bool {
	a, b = cleanScope(a), cleanScope(b)
	if a == "" || b == "" {
		return false
	}
	if a == b || a == "." || b == "." {
		return true
	}

	as, bs := strings.Split(a, "/"), strings.Split(b, "/")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == "**" || bs[i] == "**" {
			return true
		}
		if !segmentsOverlap(as[i], bs[i]) {
			return false
		}
	}
	return true
}

const globMeta = "*?[{"

func hasGlob(s string) bool {
	return strings.ContainsAny(s, globMeta)
}

func segmentsOverlap(a, b string) bool {
	ag, bg := hasGlob(a), hasGlob(b)
	switch {
	case !ag && !bg:
		return a == b
	case ag && !bg:
		return matchSegment(a, b)
	case !ag && bg:
		return matchSegment(b, a)
	}
	ap, as := literalEnds(a)
	bp, bs := literalEnds(b)
	prefixes := strings.HasPrefix(ap, bp) || strings.HasPrefix(bp, ap)
	suffixes := strings.HasSuffix(as, bs) || strings.HasSuffix(bs, as)
	return prefixes && suffixes
}

// matchSegment matches one glob segment against a literal one. A malformed
// pattern counts as a match.
func matchSegment(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err != nil || ok
}

// literalEnds returns the literal text before the first and after the last
// wildcard of a glob segment.
func literalEnds(seg string) (prefix, suffix string) {
	i := strings.IndexAny(seg, globMeta)
	j := strings.LastIndexAny(seg, "*?]}")
	prefix = seg[:i]
	if j >= i {
		suffix = seg[j+1:]
	}
	return prefix, suffix
}

func cleanScope(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean(p), "./")
}
