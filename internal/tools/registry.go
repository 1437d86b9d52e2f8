package tools

import (
	"sort"
	"sync"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
)

// FixedToolSet is the set of tools every shipper process must expose.
var FixedToolSet = []string{
	"fs.write",
	"fs.read",
	"run.command",
	"deploy.netlify",
	"deploy.vercel",
	"deploy.render",
}

// Registry holds tools by name. It is built at startup and sealed before
// any dispatch; after Seal it is read-only.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	sealed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds tool. Names are unique.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return apperrors.Newf(apperrors.CodeInternal, "registry is sealed; cannot register %s", tool.Name())
	}
	name := tool.Name()
	if name == "" {
		return apperrors.New(apperrors.CodeInvalidArguments, "tool name is empty")
	}
	if _, exists := r.tools[name]; exists {
		return apperrors.Newf(apperrors.CodeToolAlreadyRegistered, "tool %s is already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Seal freezes the registry after checking that every name in required is
// registered.
func (r *Registry) Seal(required ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var missing []string
	for _, name := range required {
		if _, ok := r.tools[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return apperrors.Newf(apperrors.CodeToolNotFound, "required tools not registered: %v", missing).
			WithContext("missing", missing)
	}
	r.sealed = true
	return nil
}

// Sealed reports whether Seal has succeeded.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definition is the exported description of one tool.
type Definition struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Schema      Schema `json:"schema" yaml:"schema"`
}

// Definitions describes every registered tool, sorted by name.
func (r *Registry) Definitions() []Definition {
	tools := r.List()
	defs := make([]Definition, len(tools))
	for i, t := range tools {
		defs[i] = Definition{Name: t.Name(), Description: t.Description(), Schema: t.Schema()}
	}
	return defs
}
