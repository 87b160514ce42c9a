// Package skill loads reusable instruction sets from SKILL.md files and
// serves them to the use_skill tool.
package skill

import (
	"log/slog"
	"sort"
	"sync"

	"clawgate/internal/domain"
)

// Registry holds loaded skills by name.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]domain.Skill
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		skills: make(map[string]domain.Skill),
		logger: logger,
	}
}

// Register adds a skill, replacing any skill with the same name.
func (r *Registry) Register(s domain.Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skills[s.Name]; ok {
		r.logger.Info("skill updated", "name", s.Name)
	}
	r.skills[s.Name] = s
}

// Load registers every skill found under dir and returns how many loaded.
func (r *Registry) Load(dir string) (int, error) {
	skills, err := LoadFromDirectory(dir, r.logger)
	if err != nil {
		return 0, err
	}
	for _, s := range skills {
		r.Register(s)
	}
	return len(skills), nil
}

func (r *Registry) Get(name string) (domain.Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// List returns all skills sorted by name.
func (r *Registry) List() []domain.Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
