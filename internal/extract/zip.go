package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
)

// xmlTag matches any XML tag.
var xmlTag = regexp.MustCompile(`<[^>]+>`)

// readZipFile returns the contents of the named entry, or nil if the archive has no such entry.
func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		return buf.Bytes(), nil
	}
	return nil, nil
}

// innerText strips tags from an XML fragment and decodes entities.
func innerText(fragment string) string {
	return html.UnescapeString(xmlTag.ReplaceAllString(fragment, ""))
}

// joinParagraphs joins non-empty paragraphs with newlines.
func joinParagraphs(paragraphs []string) string {
	var b strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p)
	}
	return b.String()
}
