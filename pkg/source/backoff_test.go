package source

import (
	"net/http"
	"testing"
	"time"
)

func TestExponentialBackoff_Next(t *testing.T) {
	b := &ExponentialBackoff{
		Base:   100 * time.Millisecond,
		Max:    1 * time.Second,
		Factor: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second}, // capped
		{9, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := b.Next(tt.attempt); got != tt.expected {
			t.Errorf("Next(%d) = %v; want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestExponentialBackoff_Jitter(t *testing.T) {
	b := &ExponentialBackoff{
		Base:   100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.1,
	}

	for i := 0; i < 100; i++ {
		got := b.Next(1)
		if got < 180*time.Millisecond || got > 220*time.Millisecond {
			t.Fatalf("Next(1) with jitter = %v; want within 10%% of 200ms", got)
		}
	}
}

func TestRetryDelay_PrefersLongerHint(t *testing.T) {
	b := &ExponentialBackoff{Base: 100 * time.Millisecond, Max: time.Second, Factor: 2}

	if got := retryDelay(b, 0, 0); got != 100*time.Millisecond {
		t.Errorf("without hint got %v", got)
	}
	if got := retryDelay(b, 0, 2*time.Second); got != 2*time.Second {
		t.Errorf("with hint got %v", got)
	}
	if got := retryDelay(b, 3, 10*time.Millisecond); got != 800*time.Millisecond {
		t.Errorf("short hint got %v", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "3", 3 * time.Second},
		{"negative", "-4", 0},
		{"capped", "3600", maxRetryAfter},
		{"http date", now.Add(5 * time.Second).Format(http.TimeFormat), 5 * time.Second},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v; want %v", tt.value, got, tt.want)
			}
		})
	}
}
