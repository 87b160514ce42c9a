package command

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"clawgate/internal/domain"
)

type StatusInfo struct {
	Version  string
	Provider string
	Workers  int
	Started  time.Time
}

// Status reports version, uptime and worker count.
type Status struct {
	info StatusInfo
	now  func() time.Time
}

func NewStatus(info StatusInfo) *Status {
	if info.Started.IsZero() {
		info.Started = time.Now()
	}
	return &Status{info: info, now: time.Now}
}

func (s *Status) Prefix() string      { return "!status" }
func (s *Status) Description() string { return "Show gateway status" }

func (s *Status) Handle(_ context.Context, ch domain.Channel, _ domain.User) (string, error) {
	uptime := s.now().Sub(s.info.Started).Round(time.Second)
	var sb strings.Builder
	fmt.Fprintf(&sb, "clawgate %s\n", s.info.Version)
	if s.info.Provider != "" {
		fmt.Fprintf(&sb, "Provider: %s\n", s.info.Provider)
	}
	fmt.Fprintf(&sb, "Workers: %d\n", s.info.Workers)
	fmt.Fprintf(&sb, "Uptime: %s\n", uptime)
	fmt.Fprintf(&sb, "Channel: %s\n", ch.Identifier())
	fmt.Fprintf(&sb, "Runtime: %s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
	return sb.String(), nil
}
