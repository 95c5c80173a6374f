package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
)

// odtContentPath is the path to the main content inside an OpenDocument zip.
const odtContentPath = "content.xml"

// odtBlock matches paragraphs and headings (<text:p>, <text:h>) in document order. Spans and
// other inline elements are stripped by innerText.
var odtBlock = regexp.MustCompile(`(?s)<text:(p|h)(?:\s[^>]*)?>(.*?)</text:(?:p|h)>`)

// odtLineBreak matches tabs and explicit line breaks, which become spaces and newlines.
var (
	odtTab       = regexp.MustCompile(`<text:tab\s*/>`)
	odtLineBreak = regexp.MustCompile(`<text:line-break\s*/>`)
)

// extractODT extracts text from .odt bytes, one line per paragraph or heading.
func extractODT(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract ODT: not a zip: %w", err)
	}
	contentXML, err := readZipFile(zr, odtContentPath)
	if err != nil {
		return "", fmt.Errorf("extract ODT: %w", err)
	}
	if contentXML == nil {
		return "", fmt.Errorf("extract ODT: %s not found", odtContentPath)
	}
	var paragraphs []string
	for _, m := range odtBlock.FindAllStringSubmatch(string(contentXML), -1) {
		body := odtTab.ReplaceAllString(m[2], " ")
		body = odtLineBreak.ReplaceAllString(body, "\n")
		paragraphs = append(paragraphs, innerText(body))
	}
	return joinParagraphs(paragraphs), nil
}
