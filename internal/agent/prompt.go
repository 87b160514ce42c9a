package agent

import (
	"fmt"
	"strings"
	"time"

	"clawgate/internal/domain"
)

const baseInstructions = `You are a helpful assistant. ` +
	`IMPORTANT: Before calling any tool, check your conversation history. ` +
	`If you already called the same tool with the same arguments, DO NOT call it again. ` +
	`Instead, reference the previous result in your response.`

// promptContext is what the system prompt is built from.
type promptContext struct {
	Channel domain.Channel
	// Persona is prepended for new conversations only. Existing ones
	// carry it in their history.
	Persona string
	Fresh   bool
	Now     time.Time
}

func buildInstructions(pc promptContext) string {
	var sb strings.Builder
	if pc.Fresh && pc.Persona != "" {
		sb.WriteString(pc.Persona)
		sb.WriteString("\n\n")
	}
	sb.WriteString(baseInstructions)

	fmt.Fprintf(&sb, "\n\nCurrent time: %s", pc.Now.Format("2006-01-02 15:04 (Monday)"))
	if pc.Channel == nil {
		return sb.String()
	}
	fmt.Fprintf(&sb, "\nYou are talking over %s.", domain.Protocol(pc.Channel.Identifier()))
	if atts := pc.Channel.Attachments(); len(atts) > 0 {
		sb.WriteString("\nThe user attached these files to the current message:")
		for _, a := range atts {
			fmt.Fprintf(&sb, "\n- %s (%s) at disk %q path %q", a.Filename, a.Kind, a.Disk, a.Path)
		}
		sb.WriteString("\nThey are deleted after this reply. Use the files tool with save_attachment to keep one.")
	}
	return sb.String()
}
