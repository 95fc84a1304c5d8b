package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/francisykl/qoder-cli-orchestrator/internal/fsutil"
)

// DefaultRegistryFile is where the integration registry lives, relative to
// the project root.
const DefaultRegistryFile = "specs/integration_registry.json"

// maxSchemaChars bounds the schema text recorded per model.
const maxSchemaChars = 2000

// SharedModel is a data model one component publishes for the others.
type SharedModel struct {
	Source    string    `json:"source"`
	Schema    string    `json:"schema"`
	UpdatedAt time.Time `json:"updated_at"`
}

type registryFile struct {
	Models    map[string]SharedModel `json:"models"`
	Timestamp time.Time              `json:"timestamp"`
}

// Registry tracks models shared between components so later tasks see what
// earlier ones defined. It is saved after every update.
type Registry struct {
	mu       sync.Mutex
	path     string
	models   map[string]SharedModel
	lastSync time.Time
}

// LoadRegistry reads the registry at path. A missing file yields an empty
// registry; an empty path keeps it in memory only.
func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{path: path, models: make(map[string]SharedModel)}
	if path == "" {
		return r, nil
	}

	data, err := fsutil.LockAndRead(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read integration registry: %w", err)
	}

	var f registryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse integration registry: %w", err)
	}
	if f.Models != nil {
		r.models = f.Models
	}
	r.lastSync = f.Timestamp
	return r, nil
}

// RegisterModelUpdate records that component defined or changed model.
func (r *Registry) RegisterModelUpdate(component, model, schema string) error {
	if len(schema) > maxSchemaChars {
		schema = schema[:maxSchemaChars]
	}
	now := time.Now()

	r.mu.Lock()
	r.models[model] = SharedModel{Source: component, Schema: schema, UpdatedAt: now}
	r.lastSync = now
	err := r.saveLocked()
	r.mu.Unlock()

	log.Printf("INFO: [integration] model %q updated by %s", model, component)
	return err
}

// Models returns a copy of the registered models.
func (r *Registry) Models() map[string]SharedModel {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]SharedModel, len(r.models))
	for k, v := range r.models {
		out[k] = v
	}
	return out
}

// Context renders the registry for inclusion in a task prompt. It returns ""
// when nothing is registered.
func (r *Registry) Context() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.models) == 0 {
		return ""
	}
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("# Shared Models\n")
	for _, name := range names {
		m := r.models[name]
		fmt.Fprintf(&b, "## %s (from %s)\n%s\n", name, m.Source, m.Schema)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Registry) saveLocked() error {
	if r.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(registryFile{Models: r.models, Timestamp: r.lastSync}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode integration registry: %w", err)
	}
	if err := fsutil.LockAndWrite(r.path, data); err != nil {
		return fmt.Errorf("failed to save integration registry: %w", err)
	}
	return nil
}

// modelName guesses the model a task description talks about: the word
// before "model", or the one after it when "model" comes first.
func modelName(description string) (string, bool) {
	words := strings.FieldsFunc(description, func(r rune) bool {
		return !(r == '_' || r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	for i, w := range words {
		lw := strings.ToLower(w)
		if lw != "model" && lw != "models" {
			continue
		}
		if i > 0 && !isFiller(words[i-1]) {
			return words[i-1], true
		}
		if i+1 < len(words) && !isFiller(words[i+1]) {
			return words[i+1], true
		}
	}
	return "", false
}

func isFiller(w string) bool {
	switch strings.ToLower(w) {
	case "a", "an", "the", "data", "new", "for", "of", "to":
		return true
	}
	return false
}
