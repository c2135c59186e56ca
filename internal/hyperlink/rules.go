package hyperlink

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"git.home.luguber.info/inful/linkaudit/internal/config"
)

// Category names an outcome bucket in the changelog. The literal strings are
// part of the report output contract.
type Category string

const (
	CategoryUpdated       Category = "Updated Links"
	CategoryExpired       Category = "Found Expired"
	CategoryNotFound      Category = "Not Found"
	CategoryError         Category = "Found Error"
	CategoryTitleMismatch Category = "Title Mismatch"
	CategoryTitleFixed    Category = "Fixed Mismatched Titles"
	CategoryAnchorIssue   Category = "Internal Hyperlink Issues"
	CategoryReplacedLink  Category = "Replaced Hyperlinks"
	CategoryReplacedText  Category = "Replaced Text"
)

// Change is one human-readable changelog line attributed to a category.
type Change struct {
	Category Category
	Detail   string
}

// Replacement is one ordered (match, replacement) rule. The first rule whose
// match is found wins.
type Replacement struct {
	Match   string
	Replace string
}

// Engine applies the ordered corrective rules to hyperlink records. It is
// stateless apart from its configuration and safe for concurrent use.
type Engine struct {
	fixDoubleSpaces  bool
	normalizeUnicode bool
	removeInvisible  bool
	validateAnchors  bool
	appendContentIDs bool
	checkTitles      bool
	fixTitles        bool
	applyReplace     bool
	replacements     []Replacement
}

// NewEngine builds a rule engine from the rules configuration.
func NewEngine(cfg config.RulesConfig) *Engine {
	e := &Engine{
		fixDoubleSpaces:  cfg.FixDoubleSpaces,
		normalizeUnicode: cfg.NormalizeUnicode,
		removeInvisible:  cfg.RemoveInvisibleLinks,
		validateAnchors:  cfg.ValidateInternalAnchors,
		appendContentIDs: cfg.AppendContentIDs,
		checkTitles:      cfg.CheckTitles,
		fixTitles:        cfg.FixTitles,
		applyReplace:     cfg.ApplyReplacements,
	}
	for _, r := range cfg.Replacements {
		e.replacements = append(e.replacements, Replacement{Match: r.Match, Replace: r.Replace})
	}
	return e
}

// PreResult aggregates the outcome of the pre-resolution rules for one record.
type PreResult struct {
	Changes          []Change
	DoubleSpaceFixes int
	RemovedInvisible bool
}

// PostResult aggregates the outcome of the post-resolution rules for one record.
type PostResult struct {
	Changes           []Change
	ContentIDAppended bool
	TitleFixed        bool
}

var multiSpace = regexp.MustCompile(`  +`)

// ApplyPre runs the pre-resolution rules: whitespace normalization,
// invisible-link removal, and internal anchor validation. bookmarks holds the
// document's known bookmark names for anchor checks.
func (e *Engine) ApplyPre(rec *Record, bookmarks map[string]struct{}) PreResult {
	var out PreResult

	text := rec.DisplayText
	if e.normalizeUnicode {
		text = norm.NFC.String(text)
	}
	if e.fixDoubleSpaces {
		runs := multiSpace.FindAllString(text, -1)
		if len(runs) > 0 {
			text = multiSpace.ReplaceAllString(text, " ")
			out.DoubleSpaceFixes = len(runs)
		}
	}
	if text != rec.DisplayText {
		rec.SetDisplayText(text)
	}

	if e.removeInvisible && strings.TrimSpace(rec.DisplayText) == "" {
		rec.MarkedForDeletion = true
		rec.AddNote("invisible link removed")
		out.RemovedInvisible = true
		return out
	}

	if e.validateAnchors && rec.SubAddress != "" && isInternalOnly(rec.Address) {
		if _, ok := bookmarks[rec.SubAddress]; !ok {
			rec.AddNote(fmt.Sprintf("anchor %q not found among document bookmarks", rec.SubAddress))
			out.Changes = append(out.Changes, Change{
				Category: CategoryAnchorIssue,
				Detail:   fmt.Sprintf("%s -> #%s (missing bookmark)", displayOrID(rec), rec.SubAddress),
			})
		}
	}

	return out
}

// ApplyPost runs the post-resolution rules in their fixed order: status
// classification, content-id append, title detection, title fix, rule-based
// replacement. Each rule sees the previous rule's output.
func (e *Engine) ApplyPost(rec *Record, res Resolution) PostResult {
	var out PostResult
	if rec.MarkedForDeletion {
		return out
	}

	switch {
	case !res.Found:
		rec.Status = "NotFound"
		rec.Processing = ProcessingProcessed
		detail := fmt.Sprintf("%s [%s]", displayOrID(rec), res.Key)
		if res.Err != "" {
			rec.AddNote("resolution failed: " + res.Err)
			detail += ": " + res.Err
		}
		out.Changes = append(out.Changes, Change{
			Category: CategoryNotFound,
			Detail:   detail,
		})
		return out
	case IsExpiredStatus(res.Status):
		rec.Status = res.Status
		rec.ContentID = res.ContentID
		rec.Processing = ProcessingProcessed
		out.Changes = append(out.Changes, Change{
			Category: CategoryExpired,
			Detail:   fmt.Sprintf("%s [%s]: %s", displayOrID(rec), res.Key, res.Status),
		})
		return out
	case res.Err != "":
		rec.Status = "Error"
		rec.Processing = ProcessingFailed
		rec.AddNote("resolution error: " + res.Err)
		out.Changes = append(out.Changes, Change{
			Category: CategoryError,
			Detail:   fmt.Sprintf("%s [%s]: %s", displayOrID(rec), res.Key, res.Err),
		})
		return out
	}

	rec.Status = res.Status
	rec.ContentID = res.ContentID
	rec.Title = res.Title
	modified := false

	if e.appendContentIDs && res.ContentID != "" {
		want := "(" + ContentIDSuffix(res.ContentID) + ")"
		trimmed := strings.TrimRight(rec.DisplayText, " ")
		if !strings.HasSuffix(trimmed, want) {
			rec.SetDisplayText(trimmed + " " + want)
			out.ContentIDAppended = true
			modified = true
		}
	}

	if title := TitlePortion(rec.DisplayText); res.Title != "" && title != res.Title {
		if e.checkTitles {
			out.Changes = append(out.Changes, Change{
				Category: CategoryTitleMismatch,
				Detail:   fmt.Sprintf("%q != %q [%s]", title, res.Title, res.Key),
			})
		}
		if e.fixTitles {
			suffix := strings.TrimPrefix(rec.DisplayText, title)
			rec.SetDisplayText(res.Title + suffix)
			out.TitleFixed = true
			modified = true
			out.Changes = append(out.Changes, Change{
				Category: CategoryTitleFixed,
				Detail:   fmt.Sprintf("%q -> %q [%s]", title, res.Title, res.Key),
			})
		}
	}

	if e.applyReplace {
		if c, changed := e.applyReplacement(rec); changed {
			out.Changes = append(out.Changes, c)
			modified = true
		}
	}

	if modified {
		out.Changes = append(out.Changes, Change{
			Category: CategoryUpdated,
			Detail:   fmt.Sprintf("%s [%s]", rec.DisplayText, res.Key),
		})
	}
	rec.Processing = ProcessingProcessed
	return out
}

// applyReplacement applies the first matching replacement rule. An address
// match rewrites the link target; a display-text match rewrites the text.
func (e *Engine) applyReplacement(rec *Record) (Change, bool) {
	for _, r := range e.replacements {
		if strings.Contains(rec.Address, r.Match) {
			oldAddr := rec.Address
			rec.SetTarget(strings.ReplaceAll(rec.Address, r.Match, r.Replace), rec.SubAddress)
			return Change{
				Category: CategoryReplacedLink,
				Detail:   fmt.Sprintf("%s -> %s", oldAddr, rec.Address),
			}, true
		}
		if strings.Contains(rec.DisplayText, r.Match) {
			oldText := rec.DisplayText
			rec.SetDisplayText(strings.ReplaceAll(rec.DisplayText, r.Match, r.Replace))
			return Change{
				Category: CategoryReplacedText,
				Detail:   fmt.Sprintf("%q -> %q", oldText, rec.DisplayText),
			}, true
		}
	}
	return Change{}, false
}

var trailingContentID = regexp.MustCompile(`\s*\(\d+\)\s*$`)

// TitlePortion strips a trailing (<digits>) content-id annotation from the
// display text, yielding the comparable title part.
func TitlePortion(displayText string) string {
	return trailingContentID.ReplaceAllString(displayText, "")
}

// ContentIDSuffix returns the numeric tail of a content identifier used for
// display annotation: TSRC-VEN-667788 -> 667788. Identifiers without a
// six-digit tail are used verbatim.
func ContentIDSuffix(contentID string) string {
	parts := strings.Split(contentID, "-")
	last := parts[len(parts)-1]
	if len(last) == 6 && isDigits(last) {
		return last
	}
	return contentID
}

var expiryMarkers = []string{"expired", "superseded", "archived"}

// IsExpiredStatus reports whether a resolution status carries an expiry marker.
func IsExpiredStatus(status string) bool {
	s := strings.ToLower(status)
	for _, m := range expiryMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func isInternalOnly(address string) bool {
	a := strings.TrimSpace(address)
	return a == "" || a == "#"
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func displayOrID(rec *Record) string {
	if t := strings.TrimSpace(rec.DisplayText); t != "" {
		return t
	}
	return rec.ElementID
}
