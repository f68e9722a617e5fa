package profile

import (
	"fmt"
	"sort"
)

// LanguageSpec is the static per-language sandbox descriptor.
// Adding a language means adding one descriptor, not executor changes.
type LanguageSpec struct {
	ID             string `yaml:"id"`
	BaseImage      string `yaml:"baseImage"`
	SourceFileName string `yaml:"sourceFileName"`

	// CompileCommand is empty for interpreted languages.
	CompileCommand string `yaml:"compileCommand"`
	RunCommand     string `yaml:"runCommand"`

	CompileTimeoutMS int `yaml:"compileTimeoutMS"`
}

// CompileEnabled reports whether the language has a compile step.
func (s LanguageSpec) CompileEnabled() bool {
	return s.CompileCommand != ""
}

// Validate checks the descriptor is usable.
func (s LanguageSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("language id is required")
	}
	if s.BaseImage == "" {
		return fmt.Errorf("language %s: baseImage is required", s.ID)
	}
	if s.SourceFileName == "" {
		return fmt.Errorf("language %s: sourceFileName is required", s.ID)
	}
	if s.RunCommand == "" {
		return fmt.Errorf("language %s: runCommand is required", s.ID)
	}
	return nil
}

// Registry holds the supported language descriptors.
type Registry struct {
	specs map[string]LanguageSpec
}

// NewRegistry builds a registry from descriptors, validating each.
func NewRegistry(specs []LanguageSpec) (*Registry, error) {
	r := &Registry{specs: make(map[string]LanguageSpec, len(specs))}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.specs[s.ID]; dup {
			return nil, fmt.Errorf("duplicate language id %s", s.ID)
		}
		r.specs[s.ID] = s
	}
	return r, nil
}

// Lookup returns the descriptor for a language id.
func (r *Registry) Lookup(id string) (LanguageSpec, bool) {
	s, ok := r.specs[id]
	return s, ok
}

// IDs returns the supported language ids in stable order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
