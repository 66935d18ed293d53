package broadcast

import (
	"testing"
	"time"
)

func TestParseFiltersEmpty(t *testing.T) {
	now := time.Now()
	for _, raw := range []string{"", "done", "  done  ", "\n\n"} {
		filter, err := ParseFilters(raw, now)
		if err != nil {
			t.Errorf("ParseFilters(%q) error = %v, want nil", raw, err)
		}
		if filter != nil {
			t.Errorf("ParseFilters(%q) = %+v, want nil", raw, filter)
		}
	}
}

func TestParseFiltersDates(t *testing.T) {
	filter, err := ParseFilters("joined_before 2024-02-01\nusername_only yes", time.Now())
	if err != nil {
		t.Fatalf("ParseFilters() error = %v", err)
	}
	if filter.JoinedBefore == nil {
		t.Fatal("JoinedBefore not set")
	}
	want := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if !filter.JoinedBefore.Equal(want) {
		t.Errorf("JoinedBefore = %v, want %v", filter.JoinedBefore, want)
	}
	if filter.JoinedBefore.Location() != time.UTC {
		t.Error("JoinedBefore should be UTC")
	}
	if !filter.UsernameOnly {
		t.Error("UsernameOnly = false, want true")
	}
	if filter.JoinedAfter != nil || filter.ActiveAfter != nil || filter.SampleEvery != 0 {
		t.Errorf("unexpected extra filters: %+v", filter)
	}
}

func TestParseFiltersActiveWithin(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	filter, err := ParseFilters("active_within 3", now)
	if err != nil {
		t.Fatalf("ParseFilters() error = %v", err)
	}
	if filter.ActiveAfter == nil {
		t.Fatal("ActiveAfter not set")
	}
	want := now.AddDate(0, 0, -3)
	if !filter.ActiveAfter.Equal(want) {
		t.Errorf("ActiveAfter = %v, want %v", filter.ActiveAfter, want)
	}
}

func TestParseFiltersErrors(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"joined_after not-a-date", `Invalid date for "joined_after". Use YYYY-MM-DD.`},
		{"joined_before 01/02/2024", `Invalid date for "joined_before". Use YYYY-MM-DD.`},
		{"sample_every zero", `Invalid number for "sample_every".`},
		{"sample_every 0", `"sample_every" must be at least 1.`},
		{"active_within -1", `"active_within" must be at least 1.`},
		{"unknown option", `Unrecognized filter: "unknown option".`},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			filter, err := ParseFilters(tt.raw, time.Now())
			if err == nil {
				t.Fatalf("ParseFilters(%q) error = nil, want %q", tt.raw, tt.want)
			}
			if err.Error() != tt.want {
				t.Errorf("ParseFilters(%q) error = %q, want %q", tt.raw, err.Error(), tt.want)
			}
			if filter != nil {
				t.Errorf("ParseFilters(%q) filter = %+v, want nil", tt.raw, filter)
			}
		})
	}
}

func TestParseFiltersUsernameOnlyOtherValue(t *testing.T) {
	filter, err := ParseFilters("username_only nope", time.Now())
	if err != nil {
		t.Fatalf("ParseFilters() error = %v, want nil", err)
	}
	if filter.UsernameOnly {
		t.Error("UsernameOnly = true, want false for non-yes value")
	}
}

func TestParseFiltersSampleEvery(t *testing.T) {
	filter, err := ParseFilters("sample_every 5", time.Now())
	if err != nil {
		t.Fatalf("ParseFilters() error = %v", err)
	}
	if filter.SampleEvery != 5 {
		t.Errorf("SampleEvery = %d, want 5", filter.SampleEvery)
	}
}
