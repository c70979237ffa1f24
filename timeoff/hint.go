package timeoff

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/warp/accrual-engine/generic"
)

// =============================================================================
// MEMO HINTS - Best-effort period references in free text
// =============================================================================

var (
	// [period:emp-1-2021-03-01]
	periodIDPattern = regexp.MustCompile(`(?i)\[\s*period\s*:\s*([^\]\s]+)\s*\]`)

	// "periodo 2021-2022", "período 2021/2022", "period: 2021"
	periodLabelPattern = regexp.MustCompile(`(?i)\bper[ií]odo?\s*:?\s*(\d{4})(?:\s*[-/]\s*(\d{4}))?\b`)
)

// ParseMemoHint extracts a target period from an approver's memo. It returns
// nil when the memo names no period. An explicit [period:<id>] tag wins over
// a year label. A range whose second year is not after the first is ignored.
//
//	"vacaciones periodo 2021-2022"  -> Label "2021-2022"
//	"period: 2023"                  -> Label "2023"
//	"ajuste [period:p-7]"           -> PeriodID "p-7"
func ParseMemoHint(memo string) *generic.TargetPeriodHint {
	memo = strings.TrimSpace(memo)
	if memo == "" {
		return nil
	}

	if m := periodIDPattern.FindStringSubmatch(memo); m != nil {
		return &generic.TargetPeriodHint{PeriodID: generic.PeriodID(m[1])}
	}

	m := periodLabelPattern.FindStringSubmatch(memo)
	if m == nil {
		return nil
	}
	if m[2] == "" {
		return &generic.TargetPeriodHint{Label: m[1]}
	}

	from, _ := strconv.Atoi(m[1])
	to, _ := strconv.Atoi(m[2])
	if to <= from {
		return nil
	}
	return &generic.TargetPeriodHint{Label: m[1] + "-" + m[2]}
}

// withMemoHints fills Hint from Memo on events that carry no explicit hint.
// The input slice is not modified.
func withMemoHints(events []generic.ConsumptionEvent) []generic.ConsumptionEvent {
	out := make([]generic.ConsumptionEvent, len(events))
	for i, ev := range events {
		if ev.Hint.IsZero() && ev.Memo != "" {
			ev.Hint = ParseMemoHint(ev.Memo)
		}
		out[i] = ev
	}
	return out
}
