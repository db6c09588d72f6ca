package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_IntervalExpander(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	exp := IntervalExpander{}

	tests := []struct {
		name    string
		rule    string
		start   time.Time
		from    time.Time
		to      time.Time
		want    []time.Time
		wantErr error
	}{
		{
			name:  "one-off inside window",
			start: base,
			from:  base.Add(-time.Hour),
			to:    base.Add(time.Hour),
			want:  []time.Time{base},
		},
		{
			name:  "one-off outside window",
			start: base,
			from:  base.Add(time.Hour),
			to:    base.Add(2 * time.Hour),
			want:  nil,
		},
		{
			name:  "one-off exactly at window start",
			start: base,
			from:  base,
			to:    base.Add(time.Minute),
			want:  []time.Time{base},
		},
		{
			name:  "daily within window",
			rule:  "daily",
			start: base,
			from:  base,
			to:    base.Add(3 * 24 * time.Hour),
			want:  []time.Time{base, base.Add(24 * time.Hour), base.Add(48 * time.Hour)},
		},
		{
			name:  "daily skips ahead to the window",
			rule:  "daily",
			start: base,
			from:  base.Add(10 * 24 * time.Hour),
			to:    base.Add(12 * 24 * time.Hour),
			want:  []time.Time{base.Add(10 * 24 * time.Hour), base.Add(11 * 24 * time.Hour)},
		},
		{
			name:  "weekly within window",
			rule:  "weekly",
			start: base,
			from:  base.Add(time.Hour),
			to:    base.Add(15 * 24 * time.Hour),
			want:  []time.Time{base.Add(7 * 24 * time.Hour), base.Add(14 * 24 * time.Hour)},
		},
		{
			name:  "empty window",
			rule:  "daily",
			start: base,
			from:  base,
			to:    base,
			want:  nil,
		},
		{
			name:    "unknown rule",
			rule:    "monthly",
			start:   base,
			from:    base,
			to:      base.Add(time.Hour),
			wantErr: ErrUnknownRule,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := exp.Expand(tt.rule, tt.start, tt.from, tt.to)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
