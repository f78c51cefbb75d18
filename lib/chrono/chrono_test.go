package chrono

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	for input, want := range map[string]time.Duration{
		"1h":  time.Hour,
		"24h": 24 * time.Hour,
		"12h": 12 * time.Hour,
		"1d":  24 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"7D":  7 * 24 * time.Hour,
	} {
		got, err := ParseInterval(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)
	}

	for _, input := range []string{"", "h", "1", "1w", "0h", "-1h", "1.5h", "1h30m"} {
		_, err := ParseInterval(input)
		require.Error(t, err, input)
	}
}

func TestSchedulerFires(t *testing.T) {
	fired := make(chan struct{}, 1)

	scheduler := NewScheduler()
	err := scheduler.Every(time.Second, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	scheduler.Start()
	defer scheduler.Stop()

	select {
	case <-fired:
	case <-time.After(time.Second * 3):
		t.Fatal("scheduled callback never fired")
	}
}
