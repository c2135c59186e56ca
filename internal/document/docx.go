package document

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"git.home.luguber.info/inful/linkaudit/internal/backup"
	"git.home.luguber.info/inful/linkaudit/internal/hyperlink"
)

const (
	docxDocumentEntry = "word/document.xml"
	docxRelsEntry     = "word/_rels/document.xml.rels"
)

// DocxAdapter reads and writes hyperlinks in OOXML .docx containers. It
// operates on word/document.xml and its relationship part directly, copying
// every other archive entry verbatim on commit.
type DocxAdapter struct {
	backups *backup.Manager
}

// NewDocxAdapter builds an adapter; backups may be nil when backups are disabled.
func NewDocxAdapter(backups *backup.Manager) *DocxAdapter {
	return &DocxAdapter{backups: backups}
}

var (
	hyperlinkElement = regexp.MustCompile(`(?s)<w:hyperlink\b[^>]*?(?:/>|>.*?</w:hyperlink>)`)
	relIDAttr        = regexp.MustCompile(`\br:id="([^"]*)"`)
	anchorAttr       = regexp.MustCompile(`\bw:anchor="([^"]*)"`)
	textRun          = regexp.MustCompile(`(?s)<w:t(?:\s[^>]*)?>(.*?)</w:t>`)
	bookmarkStart    = regexp.MustCompile(`<w:bookmarkStart\b[^>]*?\bw:name="([^"]*)"`)
	relElement       = regexp.MustCompile(`<Relationship\b[^>]*?/?>`)
	relIDCapture     = regexp.MustCompile(`\bId="([^"]*)"`)
	relTargetAttr    = regexp.MustCompile(`\bTarget="[^"]*"`)
)

// Open enumerates the hyperlink elements and bookmark names of a document.
// Element ids are ordinal and therefore stable for one open/commit cycle.
func (a *DocxAdapter) Open(ctx context.Context, path string) (*Contents, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docXML, relsXML, err := readDocxParts(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	targets, err := parseRelTargets(relsXML)
	if err != nil {
		return nil, fmt.Errorf("parse relationships of %s: %w", path, err)
	}

	contents := &Contents{Bookmarks: make(map[string]struct{})}
	for _, m := range bookmarkStart.FindAllStringSubmatch(docXML, -1) {
		contents.Bookmarks[unescapeXML(m[1])] = struct{}{}
	}

	for i, frag := range hyperlinkElement.FindAllString(docXML, -1) {
		relID := firstGroup(relIDAttr, frag)
		anchor := unescapeXML(firstGroup(anchorAttr, frag))
		address := ""
		if relID != "" {
			address = targets[relID]
		}

		var display strings.Builder
		for _, t := range textRun.FindAllStringSubmatch(frag, -1) {
			display.WriteString(unescapeXML(t[1]))
		}

		rec := hyperlink.NewRecord(elementID(i), address, anchor, display.String())
		rec.RelID = relID
		contents.Hyperlinks = append(contents.Hyperlinks, rec)
	}

	return contents, nil
}

// Commit writes edited display text, removes records marked for deletion, and
// updates relationship targets. The archive is rewritten to a temp file and
// renamed into place so a failed write never truncates the original.
func (a *DocxAdapter) Commit(_ context.Context, path string, contents *Contents) error {
	docXML, relsXML, err := readDocxParts(path)
	if err != nil {
		return err
	}

	byID := make(map[string]*hyperlink.Record, len(contents.Hyperlinks))
	for _, rec := range contents.Hyperlinks {
		byID[rec.ElementID] = rec
	}

	newDoc := rewriteDocument(docXML, byID)
	newRels := rewriteRelTargets(relsXML, contents.Hyperlinks)

	return rewriteArchive(path, map[string][]byte{
		docxDocumentEntry: []byte(newDoc),
		docxRelsEntry:     []byte(newRels),
	})
}

// CreateBackup copies the document into the backup directory.
func (a *DocxAdapter) CreateBackup(path string) (string, error) {
	if a.backups == nil {
		return "", fmt.Errorf("backups are not configured")
	}
	return a.backups.Backup(path)
}

// RestoreFromBackup restores a document from a previously created backup.
func (a *DocxAdapter) RestoreFromBackup(path, backupPath string) error {
	if a.backups == nil {
		return fmt.Errorf("backups are not configured")
	}
	return a.backups.Restore(path, backupPath)
}

// rewriteDocument walks the hyperlink elements in document order and applies
// deletions and display-text edits. Elements without a matching record are
// copied unchanged.
func rewriteDocument(docXML string, byID map[string]*hyperlink.Record) string {
	var out strings.Builder
	last := 0
	for i, loc := range hyperlinkElement.FindAllStringIndex(docXML, -1) {
		out.WriteString(docXML[last:loc[0]])
		frag := docXML[loc[0]:loc[1]]
		last = loc[1]

		rec, ok := byID[elementID(i)]
		switch {
		case !ok:
			out.WriteString(frag)
		case rec.MarkedForDeletion:
			// dropped entirely
		default:
			if rec.TargetChanged && rec.RelID == "" && rec.SubAddress != "" {
				frag = anchorAttr.ReplaceAllString(frag, `w:anchor="`+escapeXML(rec.SubAddress)+`"`)
			}
			if rec.TextChanged {
				frag = setDisplayText(frag, rec.DisplayText)
			}
			out.WriteString(frag)
		}
	}
	out.WriteString(docXML[last:])
	return out.String()
}

// setDisplayText puts the full new text into the first text run and drops the
// remaining runs so the visible text matches the record exactly.
func setDisplayText(frag, text string) string {
	locs := textRun.FindAllStringIndex(frag, -1)
	if len(locs) == 0 {
		return frag
	}
	var out strings.Builder
	last := 0
	for i, loc := range locs {
		out.WriteString(frag[last:loc[0]])
		if i == 0 {
			out.WriteString(`<w:t xml:space="preserve">` + escapeXML(text) + `</w:t>`)
		}
		last = loc[1]
	}
	out.WriteString(frag[last:])
	return out.String()
}

// rewriteRelTargets updates the Target attribute of relationships backing
// records whose address changed. Relationships of deleted links are left in
// place; Word tolerates unreferenced relationship entries.
func rewriteRelTargets(relsXML string, records []*hyperlink.Record) string {
	changed := make(map[string]string)
	for _, rec := range records {
		if rec.TargetChanged && rec.RelID != "" && !rec.MarkedForDeletion {
			changed[rec.RelID] = rec.Address
		}
	}
	if len(changed) == 0 {
		return relsXML
	}
	return relElement.ReplaceAllStringFunc(relsXML, func(elem string) string {
		id := firstGroup(relIDCapture, elem)
		target, ok := changed[id]
		if !ok {
			return elem
		}
		return relTargetAttr.ReplaceAllString(elem, `Target="`+escapeXML(target)+`"`)
	})
}

// rewriteArchive copies the zip container, substituting the given entries,
// then renames the temp file over the original.
func rewriteArchive(path string, replaced map[string][]byte) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = r.Close() // read-only
	}()

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) // #nosec G304
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	w := zip.NewWriter(f)

	writeEntry := func(name string, data []byte) error {
		ew, err := w.Create(name)
		if err != nil {
			return err
		}
		_, err = ew.Write(data)
		return err
	}

	for _, entry := range r.File {
		if data, ok := replaced[entry.Name]; ok {
			if err := writeEntry(entry.Name, data); err != nil {
				_ = w.Close()
				_ = f.Close()
				_ = os.Remove(tmp)
				return fmt.Errorf("write %s: %w", entry.Name, err)
			}
			continue
		}
		rc, err := entry.Open()
		if err == nil {
			ew, werr := w.Create(entry.Name)
			if werr == nil {
				_, werr = io.Copy(ew, rc)
			}
			_ = rc.Close()
			err = werr
		}
		if err != nil {
			_ = w.Close()
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("copy %s: %w", entry.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp archive: %w", err)
	}
	return os.Rename(tmp, path)
}

func readDocxParts(path string) (docXML, relsXML string, err error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = r.Close() // read-only
	}()

	var doc, rels []byte
	for _, f := range r.File {
		switch f.Name {
		case docxDocumentEntry:
			doc, err = readZipEntry(f)
		case docxRelsEntry:
			rels, err = readZipEntry(f)
		}
		if err != nil {
			return "", "", fmt.Errorf("read %s from %s: %w", f.Name, path, err)
		}
	}
	if doc == nil {
		return "", "", fmt.Errorf("%s: %s not found in archive", path, docxDocumentEntry)
	}
	return string(doc), string(rels), nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close() // read-only
	}()
	return io.ReadAll(rc)
}

type relationships struct {
	XMLName xml.Name       `xml:"Relationships"`
	Rels    []relationship `xml:"Relationship"`
}

type relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

func parseRelTargets(relsXML string) (map[string]string, error) {
	targets := make(map[string]string)
	if strings.TrimSpace(relsXML) == "" {
		return targets, nil
	}
	var rels relationships
	if err := xml.Unmarshal([]byte(relsXML), &rels); err != nil {
		return nil, err
	}
	for _, rel := range rels.Rels {
		targets[rel.ID] = rel.Target
	}
	return targets, nil
}

// firstGroup returns the first capture group of re's first match in s, or ""
// when s does not match.
func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func elementID(ordinal int) string {
	return fmt.Sprintf("link-%04d", ordinal)
}

var xmlUnescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func unescapeXML(s string) string {
	return xmlUnescaper.Replace(s)
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
