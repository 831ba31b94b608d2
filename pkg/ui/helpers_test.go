package ui

import (
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{"zero max", "hello", 0, ""},
		{"fits", "hello", 10, "hello"},
		{"ellipsis", "hello world", 6, "hello…"},
		{"wide runes", "日本語のタイトル", 7, "日本語…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.input, tt.max)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
			}
			if w := runewidth.StringWidth(got); w > tt.max {
				t.Errorf("width %d exceeds %d", w, tt.max)
			}
		})
	}
}

func TestSingleLine(t *testing.T) {
	if got := singleLine("fix\n\tthe  thing\r\n"); got != "fix the thing" {
		t.Errorf("singleLine = %q", got)
	}
}

func TestPipelineSubtitle(t *testing.T) {
	tests := []struct {
		count, estimated int
		total            float64
		want             string
	}{
		{0, 0, 0, "(empty)"},
		{1, 0, 0, "(1 issue)"},
		{7, 0, 0, "(7 issues)"},
		{3, 2, 8, "(3 issues) · 8 pts"},
		{2, 1, 0.5, "(2 issues) · 0.5 pts"},
	}
	for _, tt := range tests {
		if got := pipelineSubtitle(tt.count, tt.estimated, tt.total); got != tt.want {
			t.Errorf("pipelineSubtitle(%d, %d, %v) = %q, want %q", tt.count, tt.estimated, tt.total, got, tt.want)
		}
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, "never"},
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-50 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		if got := FormatAge(tt.at, now); got != tt.want {
			t.Errorf("FormatAge(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}
