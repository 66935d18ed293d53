// Package broadcast implements owner broadcasts: a line-oriented target
// filter language and a rate-limited fan-out over the resulting chats.
package broadcast

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/feedrelay/feedrelay/internal/database"
)

// ParseFilters parses the filter lines an owner sends alongside /broadcast.
// Each line is one filter. An empty payload or the single word "done" means
// broadcast to everyone. Errors carry user-facing text and are sent back to
// the owner verbatim.
func ParseFilters(raw string, now time.Time) (*database.TargetFilter, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "done") {
		return nil, nil
	}

	filter := &database.TargetFilter{}
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, _ := strings.Cut(line, " ")
		value = strings.TrimSpace(value)

		switch key {
		case "joined_after":
			at, err := parseDate(key, value)
			if err != nil {
				return nil, err
			}
			filter.JoinedAfter = &at
		case "joined_before":
			at, err := parseDate(key, value)
			if err != nil {
				return nil, err
			}
			filter.JoinedBefore = &at
		case "active_within":
			days, err := parsePositiveInt(key, value)
			if err != nil {
				return nil, err
			}
			at := now.UTC().AddDate(0, 0, -days)
			filter.ActiveAfter = &at
		case "username_only":
			filter.UsernameOnly = strings.EqualFold(value, "yes")
		case "sample_every":
			n, err := parsePositiveInt(key, value)
			if err != nil {
				return nil, err
			}
			filter.SampleEvery = n
		default:
			return nil, fmt.Errorf("Unrecognized filter: %q.", line)
		}
	}
	return filter, nil
}

func parseDate(key, value string) (time.Time, error) {
	at, err := time.ParseInLocation("2006-01-02", value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("Invalid date for %q. Use YYYY-MM-DD.", key)
	}
	return at, nil
}

func parsePositiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("Invalid number for %q.", key)
	}
	if n < 1 {
		return 0, errors.New(strconv.Quote(key) + " must be at least 1.")
	}
	return n, nil
}

// HelpText lists the accepted filter lines, appended to parse errors so
// the owner can correct and resend.
func HelpText() string {
	return strings.Join([]string{
		"Available filters, one per line:",
		"joined_after YYYY-MM-DD",
		"joined_before YYYY-MM-DD",
		"active_within DAYS",
		"username_only yes",
		"sample_every N",
		"Send \"done\" or no filters to broadcast to everyone.",
	}, "\n")
}
