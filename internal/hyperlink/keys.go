package hyperlink

import (
	"regexp"
	"strings"
)

// KeyKind distinguishes how a lookup key must be resolved.
type KeyKind string

const (
	// KeyKindDocument keys come from a docid= query parameter and must be
	// mapped through the identifier dictionary to a content identifier
	// before resolution.
	KeyKindDocument KeyKind = "document"
	// KeyKindContent keys match the content identifier pattern directly.
	KeyKindContent KeyKind = "content"
)

// Key is the canonical identifier derived from a hyperlink target.
type Key struct {
	Value    string
	Kind     KeyKind
	Fragment string // trailing anchor, kept for bookkeeping; resolution uses Value
}

// Annotated returns the key with its fragment re-attached, for logs and notes.
func (k Key) Annotated() string {
	if k.Fragment == "" {
		return k.Value
	}
	return k.Value + "#" + k.Fragment
}

var contentIDPattern = regexp.MustCompile(`(?i)(?:CMS|TSRC)-[A-Za-z0-9-]+-\d{6}`)

// ExtractLookupKey derives the canonical lookup key from a hyperlink target.
// It returns the empty string when the hyperlink is not subject to
// lookup-based processing (plain external URLs and the like).
func ExtractLookupKey(address, subAddress string) string {
	k, ok := Classify(address, subAddress)
	if !ok {
		return ""
	}
	return k.Value
}

// Classify derives and classifies the lookup key. Fragments are stripped
// before matching and retained on the returned key.
func Classify(address, subAddress string) (Key, bool) {
	addr, frag := splitFragment(address)

	if v, ok := docIDParam(addr); ok {
		return Key{Value: v, Kind: KeyKindDocument, Fragment: frag}, true
	}

	if m := contentIDPattern.FindString(addr); m != "" {
		return Key{Value: m, Kind: KeyKindContent, Fragment: frag}, true
	}

	// Internal-only links carry their target in the sub-address.
	if strings.TrimSpace(addr) == "" {
		sub, subFrag := splitFragment(subAddress)
		if m := contentIDPattern.FindString(sub); m != "" {
			if frag == "" {
				frag = subFrag
			}
			return Key{Value: m, Kind: KeyKindContent, Fragment: frag}, true
		}
	}

	return Key{}, false
}

// docIDParam extracts the value of a docid= query parameter,
// case-insensitively. The value runs to the next '&' or end of string.
func docIDParam(addr string) (string, bool) {
	lower := strings.ToLower(addr)
	search := 0
	for {
		i := strings.Index(lower[search:], "docid=")
		if i < 0 {
			return "", false
		}
		i += search
		// Accept only a real query parameter boundary.
		if i == 0 || lower[i-1] == '?' || lower[i-1] == '&' {
			v := addr[i+len("docid="):]
			if j := strings.IndexByte(v, '&'); j >= 0 {
				v = v[:j]
			}
			if v == "" {
				return "", false
			}
			return v, true
		}
		search = i + 1
	}
}

func splitFragment(s string) (string, string) {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}
