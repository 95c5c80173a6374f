package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// zipBytes builds a zip archive from name -> content pairs, written in the given order.
func zipBytes(t *testing.T, entries ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		fw, err := w.Create(e[0])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(e[1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const wordNS = `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

func docxBody(paragraphs string) string {
	return wordNS + paragraphs + `</w:body></w:document>`
}

func TestExtractBytes_plain(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ext     string
		want    string
	}{
		{"txt", "§1 Parties\nAcme", ".txt", "§1 Parties\nAcme"},
		{"md utf8", "caf\xc3\xa9", ".md", "café"},
		{"invalid utf8", "hello\x80world", ".txt", "hello�world"},
		{"no extension", "raw", "", "raw"},
		{"byte order mark", "\xef\xbb\xbf§1 Parties", ".txt", "§1 Parties"},
		{"byte order mark with invalid utf8", "\xef\xbb\xbfa\x80b", ".txt", "a\ufffdb"},
	}
	e := NewExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ExtractBytes([]byte(tt.content), tt.ext)
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractBytes_unsupported(t *testing.T) {
	e := NewExtractor()
	for _, ext := range []string{".pptx", ".xyz", ".exe"} {
		if _, err := e.ExtractBytes([]byte("x"), ext); err == nil {
			t.Errorf("expected error for %s", ext)
		}
	}
}

func TestSupported(t *testing.T) {
	for _, ext := range []string{".pdf", ".PDF", ".docx", ".odt", ".rtf", ".xlsx", ".txt", ".md"} {
		if !Supported(ext) {
			t.Errorf("Supported(%q) = false", ext)
		}
	}
	if Supported(".pptx") {
		t.Error("pptx should not be supported")
	}
}

func TestExtractBytes_docxParagraphs(t *testing.T) {
	content := zipBytes(t, [2]string{"word/document.xml", docxBody(
		`<w:p w:rsidR="00A1"><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>§1 Par</w:t></w:r><w:r><w:t>ties</w:t></w:r></w:p>` +
			`<w:p><w:r><w:t xml:space="preserve">Acme &amp; Beta agree.</w:t></w:r></w:p>` +
			`<w:p></w:p>` +
			`<w:p><w:r><w:t>Section 2</w:t></w:r><w:r><w:tab/></w:r><w:r><w:t>Term</w:t></w:r></w:p>`,
	)})
	got, err := NewExtractor().ExtractBytes(content, ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "§1 Parties\nAcme & Beta agree.\nSection 2 Term"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractBytes_docxContentTypes(t *testing.T) {
	tests := []struct {
		name     string
		override string
		docPath  string
	}{
		{
			"part name first",
			`<Override PartName="/word/document2.xml" ContentType="` + docxMainContentType + `"/>`,
			"word/document2.xml",
		},
		{
			"content type first",
			`<Override ContentType="` + docxMainContentType + `" PartName="/word/document3.xml"/>`,
			"word/document3.xml",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := zipBytes(t,
				[2]string{contentTypesPath, `<?xml version="1.0"?><Types>` + tt.override + `</Types>`},
				[2]string{tt.docPath, docxBody(`<w:p><w:r><w:t>Governing law</w:t></w:r></w:p>`)},
			)
			got, err := NewExtractor().ExtractBytes(content, ".docx")
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != "Governing law" {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestExtractBytes_docxErrors(t *testing.T) {
	e := NewExtractor()
	if _, err := e.ExtractBytes([]byte("not a zip"), ".docx"); err == nil {
		t.Error("expected error for non-zip docx")
	}
	content := zipBytes(t, [2]string{"word/other.xml", "<x/>"})
	if _, err := e.ExtractBytes(content, ".docx"); err == nil {
		t.Error("expected error when document.xml is missing")
	}
}

func TestExtractBytes_odt(t *testing.T) {
	content := zipBytes(t, [2]string{"content.xml", `<office:document-content><office:body><office:text>` +
		`<text:h text:outline-level="1">ARTICLE 1</text:h>` +
		`<text:p text:style-name="P1">The <text:span text:style-name="T1">Supplier</text:span> shall deliver.</text:p>` +
		`<text:p>Line one<text:line-break/>Line two</text:p>` +
		`</office:text></office:body></office:document-content>`})
	got, err := NewExtractor().ExtractBytes(content, ".odt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "ARTICLE 1\nThe Supplier shall deliver.\nLine one\nLine two"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractBytes_odtMissingContent(t *testing.T) {
	content := zipBytes(t, [2]string{"meta.xml", "<x/>"})
	if _, err := NewExtractor().ExtractBytes(content, ".odt"); err == nil {
		t.Error("expected error when content.xml is missing")
	}
}

func TestExtractBytes_rtf(t *testing.T) {
	content := []byte(`{\rtf1\ansi\deff0 {\fonttbl {\f0 Times;}}\f0 Confidentiality obligations survive termination.\par}`)
	got, err := NewExtractor().ExtractBytes(content, ".rtf")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if !strings.Contains(got, "Confidentiality obligations") {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Milestone")
	f.SetCellValue("Sheet1", "B1", "Amount")
	f.SetCellValue("Sheet1", "A2", "Delivery")
	f.SetCellValue("Sheet1", "B2", "5000")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "SHEET1\nMilestone\tAmount\nDelivery\t5000" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_file(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nda.TXT")
	if err := os.WriteFile(path, []byte("§1 Confidentiality"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "§1 Confidentiality" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_nonexistent(t *testing.T) {
	if _, err := NewExtractor().Extract("/nonexistent/path/file.txt"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestExtractBytes_pdfInvalid(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("%PDF-garbage"), ".pdf"); err == nil {
		t.Error("expected error for invalid PDF")
	}
}
