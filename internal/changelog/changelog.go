// Package changelog assembles the deterministic, sectioned text report from
// per-document rule outcomes. Section order and literal formatting are part
// of the output contract.
package changelog

import (
	"fmt"
	"sort"
	"strings"

	"git.home.luguber.info/inful/linkaudit/internal/hyperlink"
)

// DocumentOutcome is one document's contribution to the report.
type DocumentOutcome struct {
	Path             string
	Changes          []hyperlink.Change
	DoubleSpaceFixes int
}

// sectionOrder is the fixed section sequence. The first four sections always
// render, including zero counts; the rest render only when non-empty.
var sectionOrder = []hyperlink.Category{
	hyperlink.CategoryUpdated,
	hyperlink.CategoryExpired,
	hyperlink.CategoryNotFound,
	hyperlink.CategoryError,
	hyperlink.CategoryTitleMismatch,
	hyperlink.CategoryTitleFixed,
	hyperlink.CategoryAnchorIssue,
	hyperlink.CategoryReplacedLink,
	hyperlink.CategoryReplacedText,
}

const alwaysRendered = 4

// Section is one rendered report section.
type Section struct {
	Name  string
	Items []string
}

// Report is the assembled changelog, consumable as text or as counts.
type Report struct {
	Sections         []Section // in fixed order, all nine present
	DoubleSpaceFixes int
}

// Build assembles a report from per-document outcomes. Output is ordered by
// document path, not completion order, so it is deterministic regardless of
// pipeline scheduling.
func Build(outcomes []DocumentOutcome) *Report {
	sorted := append([]DocumentOutcome(nil), outcomes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	items := make(map[hyperlink.Category][]string)
	report := &Report{}
	for _, doc := range sorted {
		report.DoubleSpaceFixes += doc.DoubleSpaceFixes
		for _, c := range doc.Changes {
			items[c.Category] = append(items[c.Category], fmt.Sprintf("%s: %s", doc.Path, c.Detail))
		}
	}

	for _, cat := range sectionOrder {
		report.Sections = append(report.Sections, Section{
			Name:  string(cat),
			Items: items[cat],
		})
	}
	return report
}

// String renders the report in its contractual format: one
// "<Section> (<count>):" header per section followed by indented item lines,
// and a trailing double-space total only when nonzero.
func (r *Report) String() string {
	var b strings.Builder
	for i, sec := range r.Sections {
		if i >= alwaysRendered && len(sec.Items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (%d):\n", sec.Name, len(sec.Items))
		for _, item := range sec.Items {
			fmt.Fprintf(&b, "    %s\n", item)
		}
	}
	if r.DoubleSpaceFixes > 0 {
		fmt.Fprintf(&b, "Double spaces removed: %d\n", r.DoubleSpaceFixes)
	}
	return b.String()
}

// Count is one section's machine-readable tally.
type Count struct {
	Name  string
	Count int
}

// Counts returns per-section counts in section order, for UI display.
func (r *Report) Counts() []Count {
	out := make([]Count, 0, len(r.Sections))
	for _, sec := range r.Sections {
		out = append(out, Count{Name: sec.Name, Count: len(sec.Items)})
	}
	return out
}

// CountFor returns the item count of a named section, zero when absent.
func (r *Report) CountFor(cat hyperlink.Category) int {
	for _, sec := range r.Sections {
		if sec.Name == string(cat) {
			return len(sec.Items)
		}
	}
	return 0
}
