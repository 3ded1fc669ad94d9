// Package cronexpr parses 5-field cron expressions (and the `@` aliases)
// and computes the next firing time from a given instant, matching the
// spec in original_source/python/scheduler/cron_parser.py.
package cronexpr

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cheolwanpark/meows-archive/collector/internal/errs"
)

// field positions
const (
	fieldMinute = iota
	fieldHour
	fieldDom
	fieldMonth
	fieldDow
	fieldCount
)

var fieldRanges = [fieldCount][2]int{
	fieldMinute: {0, 59},
	fieldHour:   {0, 23},
	fieldDom:    {1, 31},
	fieldMonth:  {1, 12},
	fieldDow:    {0, 6}, // Sunday = 0
}

var allowedChars = regexp.MustCompile(`^[0-9*,\-/\s]+$`)

var specialExpressions = map[string]string{
	"@yearly":  "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly": "0 0 1 * *",
	"@weekly":  "0 0 * * 0",
	"@daily":   "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":  "0 * * * *",
}

// Expression is a parsed cron expression: one set of allowed values per
// field (minute, hour, day-of-month, month, day-of-week).
type Expression struct {
	fields [fieldCount]map[int]bool
	raw    string
}

// Parse validates and parses a cron expression string, expanding `@`
// aliases to their fixed 5-field form first.
func Parse(expr string) (*Expression, error) {
	original := expr
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, errs.NewInvalidInput("cron", "expression is empty")
	}

	if strings.HasPrefix(trimmed, "@") {
		expanded, ok := specialExpressions[trimmed]
		if !ok {
			return nil, errs.NewInvalidInput("cron", "unrecognized alias: "+trimmed)
		}
		trimmed = expanded
	}

	parts := strings.Fields(trimmed)
	if len(parts) != fieldCount {
		return nil, errs.NewInvalidInput("cron", "expected 5 fields, got "+strconv.Itoa(len(parts)))
	}

	e := &Expression{raw: original}
	for i, part := range parts {
		if !allowedChars.MatchString(part) {
			return nil, errs.NewInvalidInput("cron", "field contains disallowed characters: "+part)
		}
		values, err := parseField(part, fieldRanges[i][0], fieldRanges[i][1])
		if err != nil {
			return nil, err
		}
		e.fields[i] = values
	}
	return e, nil
}

// Validate reports whether expr parses without error.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// String returns the original expression text as given to Parse.
func (e *Expression) String() string { return e.raw }

func parseField(field string, lo, hi int) (map[int]bool, error) {
	result := make(map[int]bool)
	for _, item := range strings.Split(field, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, errs.NewInvalidInput("cron", "empty field item")
		}

		var step int
		base := item
		if idx := strings.Index(item, "/"); idx >= 0 {
			base = item[:idx]
			stepStr := item[idx+1:]
			s, err := strconv.Atoi(stepStr)
			if err != nil || s <= 0 {
				return nil, errs.NewInvalidInput("cron", "invalid step: "+stepStr)
			}
			step = s
		}

		var rangeLo, rangeHi int
		switch {
		case base == "*":
			rangeLo, rangeHi = lo, hi
		case strings.Contains(base, "-"):
			bounds := strings.SplitN(base, "-", 2)
			if len(bounds) != 2 {
				return nil, errs.NewInvalidInput("cron", "invalid range: "+base)
			}
			a, err1 := strconv.Atoi(bounds[0])
			b, err2 := strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil {
				return nil, errs.NewInvalidInput("cron", "invalid range: "+base)
			}
			rangeLo, rangeHi = a, b
		default:
			v, err := strconv.Atoi(base)
			if err != nil {
				return nil, errs.NewInvalidInput("cron", "invalid value: "+base)
			}
			rangeLo, rangeHi = v, v
		}

		if rangeLo < lo || rangeHi > hi || rangeLo > rangeHi {
			return nil, errs.NewInvalidInput("cron", "value out of range: "+base)
		}

		if step == 0 {
			for v := rangeLo; v <= rangeHi; v++ {
				result[v] = true
			}
		} else {
			for v := rangeLo; v <= rangeHi; v += step {
				result[v] = true
			}
		}
	}
	return result, nil
}

// NextExecution returns the earliest minute strictly after from whose
// minute/hour/day-of-month/month/day-of-week all match. Day-of-week uses
// Sunday=0, matching Go's time.Weekday. The search walks one minute at a
// time with a cap of one calendar year; exceeding the cap returns an
// InvalidInput error whose reason starts with "unsatisfiable".
func (e *Expression) NextExecution(from time.Time) (time.Time, error) {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := 366 * 24 * 60
	for i := 0; i < limit; i++ {
		if e.matches(t) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, errs.NewInvalidInput("cron", "unsatisfiable: no matching minute within one year")
}

func (e *Expression) matches(t time.Time) bool {
	if !e.fields[fieldMinute][t.Minute()] {
		return false
	}
	if !e.fields[fieldHour][t.Hour()] {
		return false
	}
	if !e.fields[fieldDom][t.Day()] {
		return false
	}
	if !e.fields[fieldMonth][int(t.Month())] {
		return false
	}
	if !e.fields[fieldDow][int(t.Weekday())] {
		return false
	}
	return true
}
