package scheduler

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ResolveContext supplies the reference points for dynamic input tokens.
type ResolveContext struct {
	Now           time.Time
	LastExecution *time.Time
	Location      *time.Location
}

// Template tokens: a reference point plus an optional signed offset,
// e.g. "{{today}}", "{{today - 10 days}}", "{{now + 2 hours}}",
// "{{lastExecution}}".
var tokenRe = regexp.MustCompile(`\{\{\s*(today|yesterday|tomorrow|now|lastExecution)(?:\s*([+-])\s*(\d+)\s*(minutes?|hours?|days?|weeks?|months?))?\s*\}\}`)

// ResolveInputs substitutes dynamic tokens in a schedule's input
// template. Non-string values and strings without a recognized token
// pass through unchanged; tokens are replaced in place so the rest of
// the string is untouched. Pure given (template, rctx).
func ResolveInputs(tmpl map[string]any, rctx ResolveContext) map[string]any {
	if tmpl == nil {
		return nil
	}
	out := make(map[string]any, len(tmpl))
	for k, v := range tmpl {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		out[k] = resolveString(s, rctx)
	}
	return out
}

func resolveString(s string, rctx ResolveContext) string {
	return tokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		m := tokenRe.FindStringSubmatch(tok)
		ref, sign, amount, unit := m[1], m[2], m[3], m[4]

		loc := rctx.Location
		if loc == nil {
			loc = time.UTC
		}
		now := rctx.Now.In(loc)

		var base time.Time
		dateOnly := false
		switch ref {
		case "today":
			base, dateOnly = now, true
		case "yesterday":
			base, dateOnly = now.AddDate(0, 0, -1), true
		case "tomorrow":
			base, dateOnly = now.AddDate(0, 0, 1), true
		case "now":
			base = now
		case "lastExecution":
			// First run: no prior execution, fall back to now.
			if rctx.LastExecution != nil {
				base = rctx.LastExecution.In(loc)
			} else {
				base = now
			}
		}

		if amount != "" {
			n, _ := strconv.Atoi(amount)
			if sign == "-" {
				n = -n
			}
			base = applyOffset(base, n, unit)
		}

		if dateOnly {
			return base.Format("2006-01-02")
		}
		return base.Format(time.RFC3339)
	})
}

func applyOffset(t time.Time, n int, unit string) time.Time {
	switch strings.TrimSuffix(unit, "s") {
	case "minute":
		return t.Add(time.Duration(n) * time.Minute)
	case "hour":
		return t.Add(time.Duration(n) * time.Hour)
	case "day":
		return t.AddDate(0, 0, n)
	case "week":
		return t.AddDate(0, 0, 7*n)
	case "month":
		return t.AddDate(0, n, 0)
	}
	return t
}
