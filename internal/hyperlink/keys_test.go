package hyperlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDocIDParam(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    string
	}{
		{"query start", "https://cm.example.com/view?docid=ABC123", "ABC123"},
		{"second param", "https://cm.example.com/view?mode=read&docid=ABC123", "ABC123"},
		{"value cut at ampersand", "https://cm.example.com/view?docid=ABC123&mode=read", "ABC123"},
		{"case insensitive name", "https://cm.example.com/view?DocID=ABC123", "ABC123"},
		{"bare parameter", "docid=ABC123", "ABC123"},
		{"embedded in other param", "https://cm.example.com/view?parentdocid=ABC123", ""},
		{"empty value", "https://cm.example.com/view?docid=", ""},
		{"no parameter", "https://cm.example.com/view?id=ABC123", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := Classify(tt.address, "")
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, key.Value)
			assert.Equal(t, KeyKindDocument, key.Kind)
		})
	}
}

func TestClassifyContentIDPattern(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    string
	}{
		{"tsrc id", "https://cm.example.com/TSRC-VEN-667788", "TSRC-VEN-667788"},
		{"cms id", "https://cm.example.com/CMS-POL-123456/view", "CMS-POL-123456"},
		{"lowercase matches", "https://cm.example.com/tsrc-ven-667788", "tsrc-ven-667788"},
		{"multi-segment middle", "https://cm.example.com/TSRC-A1-B2-123456", "TSRC-A1-B2-123456"},
		{"five digit tail", "https://cm.example.com/TSRC-VEN-66778", ""},
		{"plain url", "https://example.com/page", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := Classify(tt.address, "")
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, key.Value)
			assert.Equal(t, KeyKindContent, key.Kind)
		})
	}
}

func TestClassifyFragmentStrippedAndRetained(t *testing.T) {
	key, ok := Classify("https://cm.example.com/TSRC-VEN-667788#section-2", "")
	require.True(t, ok)
	assert.Equal(t, "TSRC-VEN-667788", key.Value)
	assert.Equal(t, "section-2", key.Fragment)
	assert.Equal(t, "TSRC-VEN-667788#section-2", key.Annotated())

	// The fragment must never leak into a document-id value either.
	key, ok = Classify("https://cm.example.com/view?docid=ABC123#top", "")
	require.True(t, ok)
	assert.Equal(t, "ABC123", key.Value)
	assert.Equal(t, "top", key.Fragment)
}

func TestClassifySubAddressFallback(t *testing.T) {
	// Internal-only links carry the identifier in the sub-address.
	key, ok := Classify("", "TSRC-VEN-667788")
	require.True(t, ok)
	assert.Equal(t, "TSRC-VEN-667788", key.Value)
	assert.Equal(t, KeyKindContent, key.Kind)

	// A non-empty address wins over the sub-address.
	_, ok = Classify("https://example.com/page", "TSRC-VEN-667788")
	assert.False(t, ok)
}

func TestExtractLookupKey(t *testing.T) {
	assert.Equal(t, "ABC123", ExtractLookupKey("https://x/view?docid=ABC123", ""))
	assert.Equal(t, "TSRC-VEN-667788", ExtractLookupKey("https://x/TSRC-VEN-667788", ""))
	assert.Empty(t, ExtractLookupKey("https://example.com", ""))
	assert.Empty(t, ExtractLookupKey("", ""))
}

func TestRecordKeyTracksTarget(t *testing.T) {
	rec := NewRecord("link-0000", "https://x/TSRC-VEN-667788", "", "Vendor Doc")
	require.NotNil(t, rec.LookupKey)
	assert.Equal(t, "TSRC-VEN-667788", rec.LookupKey.Value)

	rec.SetTarget("https://example.com/other", "")
	assert.Nil(t, rec.LookupKey)
	assert.True(t, rec.TargetChanged)

	rec.SetTarget("https://x/view?docid=D-42", "")
	require.NotNil(t, rec.LookupKey)
	assert.Equal(t, KeyKindDocument, rec.LookupKey.Kind)
}
