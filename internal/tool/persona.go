package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"clawgate/internal/domain"
)

type personaArgs struct {
	Operation string `json:"operation" validate:"required"`
	Persona   string `json:"persona"`
}

// Persona switches the bot persona for the current conversation. Personas
// are markdown files in one directory.
type Persona struct {
	dir         string
	defaultName string
	ops         *OperationTable[personaArgs]
}

func NewPersona(dir, defaultName string) *Persona {
	p := &Persona{dir: dir, defaultName: defaultName}
	p.ops = NewOperationTable[personaArgs](nil,
		Operation[personaArgs]{Name: "list", Run: p.list},
		Operation[personaArgs]{Name: "switch", Run: p.switchTo},
		Operation[personaArgs]{Name: "clear", Run: p.clear},
	)
	return p
}

func (p *Persona) Name() string { return "persona" }

func (p *Persona) Description() string {
	list := "No persona files found"
	if names := ListPersonas(p.dir); len(names) > 0 {
		list = "Available: " + strings.Join(names, ", ")
	}
	return fmt.Sprintf("Manage the bot persona for this conversation. %s. Operations: list, switch, clear.", list)
}

func (p *Persona) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"operation": {Type: "string", Description: "The operation: list, switch, clear", Enum: p.ops.Names()},
		"persona":   {Type: "string", Description: "The persona name (for switch)"},
	}, []string{"operation"})
}

func (p *Persona) Execute(ctx context.Context, raw map[string]any) (string, error) {
	var args personaArgs
	if msg, err := DecodeArgs(raw, &args); msg != "" || err != nil {
		return msg, err
	}
	return p.ops.Dispatch(ctx, args.Operation, raw, &args)
}

func (p *Persona) list(context.Context, *personaArgs) (string, error) {
	names := ListPersonas(p.dir)
	if len(names) == 0 {
		return "No persona files found in " + p.dir, nil
	}
	return "Available personas: " + strings.Join(names, ", "), nil
}

func (p *Persona) switchTo(_ context.Context, args *personaArgs) (string, error) {
	if args.Persona == "" {
		return `The "persona" parameter is required for the switch operation.`, nil
	}
	names := ListPersonas(p.dir)
	if !slices.Contains(names, args.Persona) {
		return fmt.Sprintf("Unknown persona '%s'. Available: %s", args.Persona, strings.Join(names, ", ")), nil
	}
	content, err := ReadPersona(p.dir, args.Persona)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Persona switched to '%s'. Apply the following instructions for the rest of this conversation:\n\n%s", args.Persona, content), nil
}

func (p *Persona) clear(context.Context, *personaArgs) (string, error) {
	fallback := ""
	if p.defaultName != "" {
		fallback = " Falling back to default: " + p.defaultName + "."
	}
	return "Persona cleared." + fallback + " Revert to your default behaviour for the rest of this conversation.", nil
}

// ListPersonas returns the sorted names of the *.md files in dir.
func ListPersonas(dir string) []string {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Strings(names)
	return names
}

// ReadPersona loads one persona file by name.
func ReadPersona(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(name)+".md"))
	if err != nil {
		return "", fmt.Errorf("read persona %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

var _ domain.Tool = (*Persona)(nil)
