package recurrence

import (
	"testing"
	"time"

	"github.com/madisonstylee/thetidytoad-sub000/internal/model"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    model.Recurrence
		wantErr bool
	}{
		{"", model.RecurrenceNone, false},
		{"daily", model.RecurrenceDaily, false},
		{"Weekly", model.RecurrenceWeekly, false},
		{" monthly ", model.RecurrenceMonthly, false},
		{"yearly", "", true},
		{"fortnightly", "", true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNextDueDate(t *testing.T) {
	date := func(y int, m time.Month, d int) *time.Time {
		t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return &t
	}

	tests := []struct {
		name string
		rule model.Recurrence
		due  *time.Time
		want *time.Time
	}{
		{"daily", model.RecurrenceDaily, date(2025, time.April, 1), date(2025, time.April, 2)},
		{"weekly", model.RecurrenceWeekly, date(2025, time.April, 1), date(2025, time.April, 8)},
		{"monthly", model.RecurrenceMonthly, date(2025, time.April, 1), date(2025, time.May, 1)},
		{"monthly overflow", model.RecurrenceMonthly, date(2025, time.January, 31), date(2025, time.March, 3)},
		{"daily year boundary", model.RecurrenceDaily, date(2025, time.December, 31), date(2026, time.January, 1)},
		{"no due date", model.RecurrenceWeekly, nil, nil},
		{"no recurrence", model.RecurrenceNone, date(2025, time.April, 1), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextDueDate(tt.rule, tt.due)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("NextDueDate = %v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("NextDueDate = nil, want %v", tt.want)
			}
			if !got.Equal(*tt.want) {
				t.Errorf("NextDueDate = %v, want %v", got, tt.want)
			}
		})
	}
}
