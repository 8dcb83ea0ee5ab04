package calendar

import (
	"fmt"
	"sort"
)

// Window is one free span of a listing's calendar. ID is empty for windows
// that a plan inserts and the store has not yet persisted.
type Window struct {
	ID string
	Range
}

// MutationKind names the store operation a Mutation asks for.
type MutationKind string

const (
	MutationDelete MutationKind = "delete"
	MutationShrink MutationKind = "shrink"
	MutationInsert MutationKind = "insert"
)

// Mutation is one step of a Plan. For shrink, Range is the window's new
// extent; for insert it is the new window; for delete it is the removed one.
type Mutation struct {
	Kind     MutationKind
	WindowID string
	Range    Range
}

// Plan is the ordered list of store mutations that removes a range.
type Plan []Mutation

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool { return len(p) == 0 }

// RemoveRange computes the mutations that take r out of the free calendar
// and returns them with the resulting windows. The input is not modified.
//
// Every overlapping window falls in exactly one case:
//   - r covers the window: delete it
//   - r lies strictly inside: shrink to the head, insert the tail
//   - r overlaps the window's end: shrink to the head
//   - r overlaps the window's start: shrink to the tail
func RemoveRange(windows []Window, r Range) (Plan, []Window) {
	var plan Plan
	out := make([]Window, 0, len(windows)+1)
	for _, w := range windows {
		if !w.Overlaps(r) {
			out = append(out, w)
			continue
		}
		switch {
		case r.Start <= w.Start && r.End >= w.End:
			plan = append(plan, Mutation{Kind: MutationDelete, WindowID: w.ID, Range: w.Range})

		case r.Start > w.Start && r.End < w.End:
			head := Range{Start: w.Start, End: r.Start.AddDays(-1)}
			tail := Range{Start: r.End.AddDays(1), End: w.End}
			plan = append(plan,
				Mutation{Kind: MutationShrink, WindowID: w.ID, Range: head},
				Mutation{Kind: MutationInsert, Range: tail},
			)
			out = append(out, Window{ID: w.ID, Range: head}, Window{Range: tail})

		case r.Start > w.Start && r.Start <= w.End:
			head := Range{Start: w.Start, End: r.Start.AddDays(-1)}
			plan = append(plan, Mutation{Kind: MutationShrink, WindowID: w.ID, Range: head})
			out = append(out, Window{ID: w.ID, Range: head})

		case r.End >= w.Start && r.End < w.End:
			tail := Range{Start: r.End.AddDays(1), End: w.End}
			plan = append(plan, Mutation{Kind: MutationShrink, WindowID: w.ID, Range: tail})
			out = append(out, Window{ID: w.ID, Range: tail})
		}
	}
	sortWindows(out)
	return plan, out
}

// IsAvailable reports whether a single window covers all of r. Two adjacent
// windows whose union covers r do not count.
func IsAvailable(windows []Window, r Range) bool {
	for _, w := range windows {
		if w.Covers(r) {
			return true
		}
	}
	return false
}

// Normalize sorts ranges and merges any that overlap or touch.
func Normalize(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := []Range{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End.AddDays(1) {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Validate returns an error describing the first pair of windows that
// overlap or touch, or the first window that is inverted.
func Validate(windows []Window) error {
	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sortWindows(sorted)
	for i, w := range sorted {
		if w.End < w.Start {
			return fmt.Errorf("window %s: %w", w.Range, ErrInvalidRange)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if w.Start <= prev.End.AddDays(1) {
			return fmt.Errorf("windows %s and %s overlap or touch", prev.Range, w.Range)
		}
	}
	return nil
}

func sortWindows(ws []Window) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].Start < ws[j].Start })
}
