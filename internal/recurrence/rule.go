package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// MaxOccurrences caps every expansion regardless of Count.
const MaxOccurrences = 180

var ErrInvalidRecurrenceRule = errors.New("invalid recurrence rule")

// Frequency is the step unit of a Rule.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// Rule describes a series. Count and Until are mutually exclusive; zero
// values mean "not set".
type Rule struct {
	Frequency Frequency `json:"frequency"`
	Interval  int       `json:"interval"`
	Count     int       `json:"count,omitempty"`
	Until     time.Time `json:"until,omitempty"`
}

func (r Rule) hasCount() bool { return r.Count != 0 }
func (r Rule) hasUntil() bool { return !r.Until.IsZero() }

// Validate checks the rule on its own. allowOpenEnded accepts rules with
// neither Count nor Until, which then stop at MaxOccurrences.
func (r Rule) Validate(allowOpenEnded bool) error {
	if _, err := r.Frequency.rrule(); err != nil {
		return err
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval %d < 1", ErrInvalidRecurrenceRule, r.Interval)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: count %d < 1", ErrInvalidRecurrenceRule, r.Count)
	}
	if r.hasCount() && r.hasUntil() {
		return fmt.Errorf("%w: count and until are both set", ErrInvalidRecurrenceRule)
	}
	if !r.hasCount() && !r.hasUntil() && !allowOpenEnded {
		return fmt.Errorf("%w: one of count or until is required", ErrInvalidRecurrenceRule)
	}
	return nil
}

func (f Frequency) rrule() (rrule.Frequency, error) {
	switch f {
	case Daily:
		return rrule.DAILY, nil
	case Weekly:
		return rrule.WEEKLY, nil
	case Monthly:
		return rrule.MONTHLY, nil
	default:
		return 0, fmt.Errorf("%w: unknown frequency %q", ErrInvalidRecurrenceRule, f)
	}
}

// ParseRule reads the RFC 5545 RRULE subset this package supports, e.g.
// "FREQ=WEEKLY;INTERVAL=2;COUNT=3". The result is not validated.
func ParseRule(s string) (Rule, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "RRULE:")
	opt, err := rrule.StrToROption(s)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidRecurrenceRule, err)
	}
	var r Rule
	switch opt.Freq {
	case rrule.DAILY:
		r.Frequency = Daily
	case rrule.WEEKLY:
		r.Frequency = Weekly
	case rrule.MONTHLY:
		r.Frequency = Monthly
	default:
		return Rule{}, fmt.Errorf("%w: unsupported FREQ in %q", ErrInvalidRecurrenceRule, s)
	}
	if len(opt.Byweekday) > 0 || len(opt.Bymonthday) > 0 || len(opt.Bysetpos) > 0 || len(opt.Bymonth) > 0 {
		return Rule{}, fmt.Errorf("%w: BY* parts are not supported in %q", ErrInvalidRecurrenceRule, s)
	}
	r.Interval = opt.Interval
	if r.Interval == 0 && !strings.Contains(strings.ToUpper(s), "INTERVAL=") {
		r.Interval = 1
	}
	r.Count = opt.Count
	r.Until = opt.Until
	return r, nil
}
