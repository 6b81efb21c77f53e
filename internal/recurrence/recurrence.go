package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/madisonstylee/thetidytoad-sub000/internal/model"
)

// Parse validates a recurrence value. The empty string means no recurrence.
func Parse(s string) (model.Recurrence, error) {
	switch model.Recurrence(strings.ToLower(strings.TrimSpace(s))) {
	case model.RecurrenceNone:
		return model.RecurrenceNone, nil
	case model.RecurrenceDaily:
		return model.RecurrenceDaily, nil
	case model.RecurrenceWeekly:
		return model.RecurrenceWeekly, nil
	case model.RecurrenceMonthly:
		return model.RecurrenceMonthly, nil
	default:
		return "", fmt.Errorf("unsupported recurrence %q", s)
	}
}

// NextDueDate advances a due date by one period. A nil due date stays nil:
// a recurring task with no deadline spawns successors with no deadline.
// Monthly uses calendar-month arithmetic with Go's normalization, so
// Jan 31 + 1 month lands in early March rather than clamping to Feb.
func NextDueDate(rule model.Recurrence, due *time.Time) *time.Time {
	if due == nil {
		return nil
	}

	var next time.Time
	switch rule {
	case model.RecurrenceDaily:
		next = due.AddDate(0, 0, 1)
	case model.RecurrenceWeekly:
		next = due.AddDate(0, 0, 7)
	case model.RecurrenceMonthly:
		next = due.AddDate(0, 1, 0)
	default:
		return nil
	}
	return &next
}
