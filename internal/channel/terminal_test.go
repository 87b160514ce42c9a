package channel

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"clawgate/internal/domain"
	"clawgate/internal/metrics"
)

// scriptedReader replays lines and records prompt changes.
type scriptedReader struct {
	lines   []string
	prompts []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) SetPrompt(p string) { r.prompts = append(r.prompts, p) }

func newTerminalTest(t *testing.T, lines []string, run func(ctx context.Context, ch domain.Channel)) (*TerminalSession, *scriptedReader, *bytes.Buffer) {
	t.Helper()
	te := newTestEnv(t)
	d := NewDispatcher(DispatcherConfig{Env: te.env, Queue: InlineQueue(run), Metrics: metrics.New()})
	rl := &scriptedReader{lines: lines}
	var out bytes.Buffer
	return newTerminalSession(rl, &out, d, testLogger()), rl, &out
}

func TestTerminal_RunsEachLine(t *testing.T) {
	var got []string
	s, _, _ := newTerminalTest(t, []string{"hello", "  ", "second", "/quit", "never"}, func(_ context.Context, ch domain.Channel) {
		got = append(got, ch.Text())
	})
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, "|") != "hello|second" {
		t.Errorf("tasks = %q", got)
	}
}

func TestTerminal_ConfirmReadsNextLine(t *testing.T) {
	var answers []bool
	s, rl, out := newTerminalTest(t, []string{"delete it", "y", "again", "nope"}, func(ctx context.Context, ch domain.Channel) {
		ok, err := ch.Confirm(ctx, "Delete a.txt?", 0)
		if err != nil {
			t.Errorf("Confirm: %v", err)
		}
		answers = append(answers, ok)
		ch.Send(ctx, "done")
	})
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(answers) != 2 || !answers[0] || answers[1] {
		t.Errorf("answers = %v, want [true false]", answers)
	}
	if len(rl.prompts) != 4 || rl.prompts[1] != terminalPrompt {
		t.Errorf("prompts = %q", rl.prompts)
	}
	if !strings.Contains(rl.prompts[0], "Delete a.txt?") {
		t.Errorf("confirmation prompt = %q", rl.prompts[0])
	}
	if !strings.Contains(out.String(), "done") {
		t.Errorf("output missing reply:\n%s", out.String())
	}
}

func TestTerminal_ConfirmEOFDeclines(t *testing.T) {
	var answer = true
	s, _, _ := newTerminalTest(t, []string{"delete it"}, func(ctx context.Context, ch domain.Channel) {
		answer, _ = ch.Confirm(ctx, "Sure?", 0)
	})
	s.Run(context.Background())
	if answer {
		t.Error("EOF during confirmation should decline")
	}
}

func TestTerminalIdentifier(t *testing.T) {
	if got := TerminalIdentifier(42); got != "terminal:42" {
		t.Errorf("TerminalIdentifier = %q", got)
	}
}
