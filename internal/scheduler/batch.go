package scheduler

import (
	"fmt"
	"log"
)

// Similarity weights. They sum to 1.
const (
	weightComponent = 0.3
	weightSubagent  = 0.3
	weightFiles     = 0.2
	weightDeps      = 0.2
)

// DefaultSimilarityThreshold is the minimum score for two tasks to share a batch.
const DefaultSimilarityThreshold = 0.7

// Batch is a group of similar tasks. Batches are recomputed on every
// planning pass and never persisted.
type Batch struct {
	ID         string
	TaskIDs    []string
	Component  string
	Subagent   string
	Similarity float64
}

// Scorer computes a similarity in [0,1] between two tasks.
type Scorer func(a, b *Task) float64

// Grouper clusters similar tasks and turns the clusters into execution waves.
type Grouper struct {
	Threshold float64
	// Scorer overrides the built-in similarity when set.
	Scorer Scorer
}

// NewGrouper creates a grouper with the given threshold. A threshold outside
// (0,1] falls back to DefaultSimilarityThreshold.
func NewGrouper(threshold float64) *Grouper {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	return &Grouper{Threshold: threshold}
}

// Similarity is the weighted sum of four signals: equal component, equal
// subagent, Jaccard overlap of file scopes and Jaccard overlap of
// dependencies. A Jaccard term only counts when both sets are non-empty.
func Similarity(a, b *Task) float64 {
	score := 0.0
	if a.Component == b.Component {
		score += weightComponent
	}
	if a.Subagent == b.Subagent {
		score += weightSubagent
	}
	score += weightFiles * jaccard(a.FilesScope, b.FilesScope)
	score += weightDeps * jaccard(a.DependsOn, b.DependsOn)
	return score
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	sa := make(map[string]struct{}, len(a))
	for _, x := range a {
		sa[x] = struct{}{}
	}
	union := make(map[string]struct{}, len(a)+len(b))
	for x := range sa {
		union[x] = struct{}{}
	}
	inter := 0
	seen := make(map[string]struct{}, len(b))
	for _, x := range b {
		if _, dup := seen[x]; dup {
			continue
		}
		seen[x] = struct{}{}
		if _, ok := sa[x]; ok {
			inter++
		}
		union[x] = struct{}{}
	}
	return float64(inter) / float64(len(union))
}

func (g *Grouper) score(a, b *Task) float64 {
	if g.Scorer != nil {
		return g.Scorer(a, b)
	}
	return Similarity(a, b)
}

// Group performs single-linkage clustering in input order: each unclustered
// task seeds a batch and the remaining tasks are scanned once against the
// seed. Only batches with at least two members are returned.
func (g *Grouper) Group(tasks []*Task) []Batch {
	var batches []Batch
	used := make(map[string]bool, len(tasks))

	for i, seed := range tasks {
		if used[seed.ID] {
			continue
		}
		used[seed.ID] = true
		members := []string{seed.ID}
		minScore := 1.0

		for _, other := range tasks[i+1:] {
			if used[other.ID] {
				continue
			}
			s := g.score(seed, other)
			if s >= g.Threshold {
				members = append(members, other.ID)
				used[other.ID] = true
				if s < minScore {
					minScore = s
				}
			}
		}

		if len(members) < 2 {
			continue
		}
		b := Batch{
			ID:         fmt.Sprintf("batch_%d", len(batches)),
			TaskIDs:    members,
			Component:  seed.Component,
			Subagent:   seed.Subagent,
			Similarity: minScore,
		}
		log.Printf("INFO: created %s with %d tasks: %v", b.ID, len(members), members)
		batches = append(batches, b)
	}
	return batches
}

// CanBatchExecute reports whether the members of b can run together: no two
// members may share a file-scope path and no member may depend on another.
func CanBatchExecute(b Batch, tasks map[string]*Task) bool {
	var claimed []string
	for _, id := range b.TaskIDs {
		t, ok := tasks[id]
		if !ok {
			return false
		}
		if ScopesOverlap(t.FilesScope, claimed) {
			log.Printf("WARNING: %s has file conflicts, cannot execute in parallel", b.ID)
			return false
		}
		claimed = append(claimed, t.FilesScope...)
	}

	members := make(map[string]bool, len(b.TaskIDs))
	for _, id := range b.TaskIDs {
		members[id] = true
	}
	for _, id := range b.TaskIDs {
		for _, dep := range tasks[id].DependsOn {
			if members[dep] {
				log.Printf("WARNING: %s has internal dependencies, cannot execute in parallel", b.ID)
				return false
			}
		}
	}
	return true
}

// OptimizeExecutionOrder emits one wave per executable batch and one
// single-task wave per member of a non-executable batch, in batch order.
func OptimizeExecutionOrder(batches []Batch, tasks map[string]*Task) [][]string {
	var waves [][]string
	for _, b := range batches {
		if CanBatchExecute(b, tasks) {
			waves = append(waves, append([]string(nil), b.TaskIDs...))
			continue
		}
		for _, id := range b.TaskIDs {
			waves = append(waves, []string{id})
		}
	}
	return waves
}

// Priority flattens waves into a task ordering usable by NextWave.
func Priority(waves [][]string) []string {
	var out []string
	for _, w := range waves {
		out = append(out, w...)
	}
	return out
}

// IndexTasks maps tasks by ID.
func IndexTasks(tasks []*Task) map[string]*Task {
	m := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return m
}
