package command

import (
	"context"
	"fmt"
	"strings"

	"clawgate/internal/domain"
)

// Help lists the registered commands.
type Help struct {
	registry *Registry
}

func NewHelp(registry *Registry) *Help {
	return &Help{registry: registry}
}

func (h *Help) Prefix() string      { return "!help" }
func (h *Help) Description() string { return "Show this help message" }

func (h *Help) Handle(context.Context, domain.Channel, domain.User) (string, error) {
	h.registry.mu.RLock()
	defer h.registry.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, cmd := range h.registry.commands {
		if d, ok := cmd.(Describer); ok {
			fmt.Fprintf(&sb, "%s: %s\n", cmd.Prefix(), d.Description())
		} else {
			fmt.Fprintf(&sb, "%s\n", cmd.Prefix())
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
