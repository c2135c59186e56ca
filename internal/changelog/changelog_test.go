package changelog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/linkaudit/internal/hyperlink"
)

func TestEmptyReportRendersZeroCounts(t *testing.T) {
	got := Build(nil).String()

	want := "Updated Links (0):\n" +
		"Found Expired (0):\n" +
		"Not Found (0):\n" +
		"Found Error (0):\n"
	assert.Equal(t, want, got)
}

func TestReportFormatAndSectionOrder(t *testing.T) {
	outcomes := []DocumentOutcome{
		{
			Path: "b.docx",
			Changes: []hyperlink.Change{
				{Category: hyperlink.CategoryUpdated, Detail: "Vendor Policy (667788) [TSRC-VEN-667788]"},
				{Category: hyperlink.CategoryTitleFixed, Detail: `"Vendor Doc" -> "Vendor Policy" [TSRC-VEN-667788]`},
			},
			DoubleSpaceFixes: 2,
		},
		{
			Path: "a.docx",
			Changes: []hyperlink.Change{
				{Category: hyperlink.CategoryNotFound, Detail: "Old Guide [CMS-OLD-111111]"},
			},
			DoubleSpaceFixes: 1,
		},
	}

	got := Build(outcomes).String()

	want := "Updated Links (1):\n" +
		"    b.docx: Vendor Policy (667788) [TSRC-VEN-667788]\n" +
		"Found Expired (0):\n" +
		"Not Found (1):\n" +
		"    a.docx: Old Guide [CMS-OLD-111111]\n" +
		"Found Error (0):\n" +
		"Fixed Mismatched Titles (1):\n" +
		"    b.docx: \"Vendor Doc\" -> \"Vendor Policy\" [TSRC-VEN-667788]\n" +
		"Double spaces removed: 3\n"
	assert.Equal(t, want, got)
}

func TestReportOrderedByPathNotCompletion(t *testing.T) {
	outcomes := []DocumentOutcome{
		{Path: "z.docx", Changes: []hyperlink.Change{{Category: hyperlink.CategoryUpdated, Detail: "z"}}},
		{Path: "a.docx", Changes: []hyperlink.Change{{Category: hyperlink.CategoryUpdated, Detail: "a"}}},
		{Path: "m.docx", Changes: []hyperlink.Change{{Category: hyperlink.CategoryUpdated, Detail: "m"}}},
	}

	report := Build(outcomes)
	require.Len(t, report.Sections, 9)
	assert.Equal(t, []string{
		"a.docx: a",
		"m.docx: m",
		"z.docx: z",
	}, report.Sections[0].Items)
}

func TestOptionalSectionsOnlyWhenNonEmpty(t *testing.T) {
	outcomes := []DocumentOutcome{
		{Path: "a.docx", Changes: []hyperlink.Change{
			{Category: hyperlink.CategoryReplacedText, Detail: "x"},
		}},
	}

	got := Build(outcomes).String()
	assert.Contains(t, got, "Replaced Text (1):\n")
	assert.NotContains(t, got, "Title Mismatch")
	assert.NotContains(t, got, "Replaced Hyperlinks")
	assert.NotContains(t, got, "Internal Hyperlink Issues")
	assert.False(t, strings.Contains(got, "Double spaces removed"))
}

func TestCounts(t *testing.T) {
	report := Build([]DocumentOutcome{
		{Path: "a.docx", Changes: []hyperlink.Change{
			{Category: hyperlink.CategoryExpired, Detail: "x"},
			{Category: hyperlink.CategoryExpired, Detail: "y"},
		}},
	})

	assert.Equal(t, 2, report.CountFor(hyperlink.CategoryExpired))
	assert.Zero(t, report.CountFor(hyperlink.CategoryNotFound))

	counts := report.Counts()
	require.Len(t, counts, 9)
	assert.Equal(t, "Updated Links", counts[0].Name)
	assert.Equal(t, 2, counts[1].Count)
}
