package chrono

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"invoicefetch/lib/timezone"

	"github.com/robfig/cron/v3"
)

var intervalRegex = regexp.MustCompile(`^(\d+)([hd])$`)

// ParseInterval parses schedule intervals like "1h", "24h" or "7d".
func ParseInterval(s string) (time.Duration, error) {
	groups := intervalRegex.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if len(groups) < 3 {
		return 0, fmt.Errorf(`invalid schedule format %q, use forms like "1h", "24h" or "7d"`, s)
	}
	value, err := strconv.Atoi(groups[1])
	if err != nil || value == 0 {
		return 0, fmt.Errorf("invalid schedule interval %q", s)
	}
	switch groups[2] {
	case "h":
		return time.Duration(value) * time.Hour, nil
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid schedule unit in %q", s)
}

// Scheduler repeats callbacks on a fixed interval in the storefront
// timezone.
type Scheduler struct {
	cron *cron.Cron
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger{}),
			cron.WithLocation(timezone.Location),
		),
	}
}

func (s *Scheduler) Every(interval time.Duration, callback func()) error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), callback)
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling; a callback already in flight runs to
// completion.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

type cronLogger struct{}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug(fmt.Sprintf("cron: %s", msg), keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{"err", err}, keysAndValues...)
	slog.Error(fmt.Sprintf("cron: %s", msg), args...)
}
