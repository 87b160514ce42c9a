package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"

	"clawgate/internal/domain"
)

const terminalPrompt = "you> "

var (
	terminalReplyStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#3d4450")).
				Padding(0, 1)
	terminalTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#7eb8da"))
	terminalDimStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#8b949e"))
	terminalWarnStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#e0af68"))
)

// lineReader is the part of *readline.Instance the terminal uses.
type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// InlineQueue runs every task on the caller's goroutine. The terminal uses
// it so a confirmation prompt owns the terminal while a task waits on it.
type InlineQueue func(ctx context.Context, ch domain.Channel)

func (q InlineQueue) Enqueue(ctx context.Context, ch domain.Channel) error {
	q(ctx, ch)
	return nil
}

type TerminalConfig struct {
	Dispatcher  *Dispatcher
	HistoryFile string
	Logger      *slog.Logger
	Stdin       io.ReadCloser
	Stdout      io.Writer
}

// TerminalSession is the local chat REPL. Each line becomes one message.
type TerminalSession struct {
	rl         lineReader
	closer     io.Closer
	out        io.Writer
	dispatcher *Dispatcher
	identifier string
	logger     *slog.Logger
}

func NewTerminalSession(cfg TerminalConfig) (*TerminalSession, error) {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          terminalPrompt,
		HistoryFile:     cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           cfg.Stdin,
		Stdout:          cfg.Stdout,
	})
	if err != nil {
		return nil, fmt.Errorf("init readline: %w", err)
	}
	s := newTerminalSession(rl, cfg.Stdout, cfg.Dispatcher, cfg.Logger)
	s.closer = rl
	return s, nil
}

func newTerminalSession(rl lineReader, out io.Writer, d *Dispatcher, logger *slog.Logger) *TerminalSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &TerminalSession{
		rl:         rl,
		out:        out,
		dispatcher: d,
		identifier: TerminalIdentifier(os.Getpid()),
		logger:     logger,
	}
}

// TerminalIdentifier is the channel identity of the terminal of process pid.
func TerminalIdentifier(pid int) string { return "terminal:" + strconv.Itoa(pid) }

// Run reads lines until EOF, an interrupt, a quit command or ctx ends.
func (s *TerminalSession) Run(ctx context.Context) error {
	if s.closer != nil {
		defer s.closer.Close()
	}
	fmt.Fprintln(s.out, terminalTitleStyle.Render("clawgate chat")+terminalDimStyle.Render("  type /quit to exit"))

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read line: %w", err)
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit", "/q":
			s.logger.Info("user requested quit")
			return nil
		}

		_, err = s.dispatcher.Dispatch(ctx, s.identifier, line, func(context.Context) (domain.Channel, error) {
			return &Terminal{
				Base:    newBase(s.identifier, line, nil, s.dispatcher.Env()),
				session: s,
			}, nil
		})
		if err != nil {
			s.logger.Error("terminal message failed", "error", err)
		}
	}
}

// Terminal is the channel of one line typed in the session.
type Terminal struct {
	Base

	session *TerminalSession
}

func (t *Terminal) Acknowledge(context.Context) {
	fmt.Fprintln(t.session.out, terminalDimStyle.Render("thinking..."))
}

func (t *Terminal) Send(_ context.Context, message string) error {
	_, err := fmt.Fprintln(t.session.out, terminalReplyStyle.Render(message))
	return err
}

// SendAudio prints the caption; the terminal does not play audio.
func (t *Terminal) SendAudio(ctx context.Context, _ string, caption string) error {
	return t.Send(ctx, caption)
}

func (t *Terminal) SendPhoto(_ context.Context, disk, p string) error {
	_, err := fmt.Fprintln(t.session.out, terminalDimStyle.Render("[image "+disk+":"+p+"]"))
	return err
}

// Confirm asks on the terminal itself and returns as soon as the user
// answers. The timeout does not apply.
func (t *Terminal) Confirm(_ context.Context, message string, _ time.Duration) (bool, error) {
	t.session.rl.SetPrompt(terminalWarnStyle.Render("⚠️ "+message+" [y/N]") + " ")
	defer t.session.rl.SetPrompt(terminalPrompt)

	answer, err := t.session.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
