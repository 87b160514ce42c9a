// Package command holds the short-circuit chat commands ("!new", "!help")
// that are answered directly without invoking the responder.
package command

import (
	"strings"
	"sync"

	"clawgate/internal/domain"
)

// Registry matches message text against registered command prefixes in
// registration order.
type Registry struct {
	mu       sync.RWMutex
	commands []domain.Command
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds cmd. A command registered with a prefix that is already
// present replaces the earlier one in place.
func (r *Registry) Register(cmd domain.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.commands {
		if strings.EqualFold(existing.Prefix(), cmd.Prefix()) {
			r.commands[i] = cmd
			return
		}
	}
	r.commands = append(r.commands, cmd)
}

// Match returns the first command whose prefix equals text or is followed
// by a space in text. Matching ignores case and surrounding whitespace.
func (r *Registry) Match(text string) (domain.Command, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	lower := strings.ToLower(text)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cmd := range r.commands {
		prefix := strings.ToLower(cmd.Prefix())
		if lower == prefix || strings.HasPrefix(lower, prefix+" ") {
			return cmd, true
		}
	}
	return nil, false
}

// Prefixes lists registered prefixes in registration order.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.commands))
	for i, cmd := range r.commands {
		out[i] = cmd.Prefix()
	}
	return out
}

// Describer is implemented by commands that want a line in !help.
type Describer interface {
	Description() string
}
