package live

import (
	"time"

	"github.com/pkg/errors"
)

var ErrUnknownRule = errors.New("unknown recurrence rule")

// Expander turns a recurrence rule and a time window into occurrence start
// times. Full RRULE support is an external collaborator's job; this contract
// is all the platform relies on.
type Expander interface {
	Expand(rule string, start time.Time, from, to time.Time) ([]time.Time, error)
}

// IntervalExpander is the built-in Expander: no rule means a single
// occurrence, "daily" and "weekly" repeat at fixed intervals.
type IntervalExpander struct{}

var _ Expander = IntervalExpander{}

func (IntervalExpander) Expand(rule string, start time.Time, from, to time.Time) ([]time.Time, error) {
	var interval time.Duration
	switch rule {
	case "":
		if (start.Equal(from) || start.After(from)) && start.Before(to) {
			return []time.Time{start}, nil
		}
		return nil, nil
	case "daily":
		interval = 24 * time.Hour
	case "weekly":
		interval = 7 * 24 * time.Hour
	default:
		return nil, ErrUnknownRule
	}

	var out []time.Time
	t := start
	if t.Before(from) {
		// skip ahead instead of stepping one by one
		n := from.Sub(t) / interval
		t = t.Add(n * interval)
		for t.Before(from) {
			t = t.Add(interval)
		}
	}
	for t.Before(to) {
		out = append(out, t)
		t = t.Add(interval)
	}
	return out, nil
}
