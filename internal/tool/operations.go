package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// CancelledByUser is returned to the model when a confirmation is denied.
const CancelledByUser = "Cancelled by user."

// Confirmer asks the human on the other end of a channel to approve an
// action. domain.Channel satisfies it.
type Confirmer interface {
	Confirm(ctx context.Context, message string, timeout time.Duration) (bool, error)
}

// Operation is one entry of a tool's operation table. When Confirm is set
// the operation runs only after the user approves the prompt, built by
// replacing {arg} placeholders with argument values.
type Operation[A any] struct {
	Name    string
	Confirm string
	Run     func(ctx context.Context, args *A) (string, error)
}

// OperationTable dispatches the "operation" argument of a tool call.
type OperationTable[A any] struct {
	ops       []Operation[A]
	confirmer Confirmer
}

// NewOperationTable builds the table. It panics when an operation has no
// name, no Run function, or shares its name with another entry.
func NewOperationTable[A any](confirmer Confirmer, ops ...Operation[A]) *OperationTable[A] {
	seen := make(map[string]bool, len(ops))
	for i, op := range ops {
		switch {
		case strings.TrimSpace(op.Name) == "":
			panic(fmt.Sprintf("tool: operation %d has no name", i))
		case op.Run == nil:
			panic(fmt.Sprintf("tool: operation %q has no Run function", op.Name))
		case seen[op.Name]:
			panic(fmt.Sprintf("tool: duplicate operation %q", op.Name))
		}
		seen[op.Name] = true
	}
	return &OperationTable[A]{ops: ops, confirmer: confirmer}
}

// Names lists operation names in table order.
func (t *OperationTable[A]) Names() []string {
	names := make([]string, len(t.ops))
	for i, op := range t.ops {
		names[i] = op.Name
	}
	return names
}

// Dispatch runs the named operation. raw holds the untyped call arguments
// used to fill the confirmation template.
func (t *OperationTable[A]) Dispatch(ctx context.Context, name string, raw map[string]any, args *A) (string, error) {
	for _, op := range t.ops {
		if op.Name != name {
			continue
		}
		if op.Confirm != "" {
			ok, err := t.confirm(ctx, fillTemplate(op.Confirm, raw))
			if err != nil || !ok {
				return CancelledByUser, err
			}
		}
		return op.Run(ctx, args)
	}
	return fmt.Sprintf("Unknown operation '%s'. Available: %s", name, strings.Join(t.Names(), ", ")), nil
}

// confirm asks the user with the default timeout. A denial or timeout
// returns false.
func (t *OperationTable[A]) confirm(ctx context.Context, message string) (bool, error) {
	if t.confirmer == nil {
		return false, nil
	}
	ok, err := t.confirmer.Confirm(ctx, message, 0)
	if err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	return ok, nil
}

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// fillTemplate replaces {name} with the argument value. Lists are joined with
// ", " and unknown placeholders are left untouched.
func fillTemplate(tpl string, args map[string]any) string {
	return placeholder.ReplaceAllStringFunc(tpl, func(m string) string {
		v, ok := args[m[1:len(m)-1]]
		if !ok || v == nil {
			return m
		}
		if list, ok := v.([]any); ok {
			parts := make([]string, len(list))
			for i, item := range list {
				parts[i] = fmt.Sprint(item)
			}
			return strings.Join(parts, ", ")
		}
		return fmt.Sprint(v)
	})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report argument names as the model sees them.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeArgs copies raw tool arguments into a struct and validates it. A
// non-empty message means the arguments were rejected and should be handed
// back to the model as the tool result.
func DecodeArgs(raw map[string]any, dst any) (string, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Sprintf("Invalid arguments: %v", err), nil
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return validationMessage(verrs), nil
		}
		return "", err
	}
	return "", nil
}

func validationMessage(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required", "required_without":
			msgs = append(msgs, fmt.Sprintf("The %q parameter is required.", fe.Field()))
		case "url", "http_url":
			msgs = append(msgs, fmt.Sprintf("Invalid URL: %v", fe.Value()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("The %q parameter must be one of: %s.", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", ")))
		default:
			msgs = append(msgs, fmt.Sprintf("Invalid %q parameter.", fe.Field()))
		}
	}
	return strings.Join(msgs, " ")
}
