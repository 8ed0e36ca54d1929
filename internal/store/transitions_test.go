package store

import (
	"testing"

	"clinicq/queue-service/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from  string
		to    string
		valid bool
	}{
		{"waiting", "arrived", true},
		{"waiting", "in_progress", true},
		{"waiting", "completed", true},
		{"arrived", "in_progress", true},
		{"arrived", "completed", true},
		{"in_progress", "completed", true},
		{"waiting", "no_show", true},
		{"arrived", "no_show", true},
		{"in_progress", "cancelled", true},
		{"arrived", "waiting", false},
		{"in_progress", "arrived", false},
		{"in_progress", "waiting", false},
		{"completed", "in_progress", false},
		{"completed", "no_show", false},
		{"no_show", "waiting", false},
		{"cancelled", "in_progress", false},
		{"waiting", "held", false},
		{"held", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.from, tt.to); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, status := range []string{models.StatusCompleted, models.StatusNoShow, models.StatusCancelled} {
		if !IsTerminal(status) {
			t.Fatalf("%s should be terminal", status)
		}
	}
	for _, status := range []string{models.StatusWaiting, models.StatusArrived, models.StatusInProgress} {
		if IsTerminal(status) {
			t.Fatalf("%s should not be terminal", status)
		}
	}
}

func TestAllowedPriorStatuses(t *testing.T) {
	cases := []struct {
		target string
		want   []string
	}{
		{models.StatusArrived, []string{models.StatusWaiting}},
		{models.StatusInProgress, []string{models.StatusWaiting, models.StatusArrived}},
		{models.StatusCompleted, []string{models.StatusWaiting, models.StatusArrived, models.StatusInProgress}},
		{models.StatusNoShow, []string{models.StatusWaiting, models.StatusArrived, models.StatusInProgress}},
		{models.StatusCancelled, []string{models.StatusWaiting, models.StatusArrived, models.StatusInProgress}},
		{models.StatusWaiting, nil},
	}

	for _, tt := range cases {
		got := AllowedPriorStatuses(tt.target)
		if len(got) != len(tt.want) {
			t.Fatalf("AllowedPriorStatuses(%q)=%v, want %v", tt.target, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("AllowedPriorStatuses(%q)=%v, want %v", tt.target, got, tt.want)
			}
		}
	}
}

func TestKnownSetting(t *testing.T) {
	for _, flag := range SettingFlags() {
		if !KnownSetting(flag) {
			t.Fatalf("%s should be known", flag)
		}
	}
	if KnownSetting("dark_mode") {
		t.Fatalf("unexpected flag accepted")
	}
	if KnownSetting("") {
		t.Fatalf("empty flag accepted")
	}
}
