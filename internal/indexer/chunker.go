// Package indexer provides contract chunking and ingestion.
package indexer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/legalyze/legalyze/internal/models"
)

// DefaultChunkSize is the chunk size used when none is configured.
const DefaultChunkSize = 500

// charsPerUnit converts a chunk size into a character threshold.
const charsPerUnit = 4

var (
	// sectionBoundary matches the start of a structural section: §N, "Section N", ARTICLE,
	// or an all-caps heading line such as "GOVERNING LAW".
	sectionBoundary = regexp.MustCompile(`(?m)§\d|Section \d|ARTICLE|^\p{Lu}{3,}[\p{Lu}\p{N} \t&,.'’-]*\n`)
	sentenceEnd     = regexp.MustCompile(`[^.!?]+[.!?]+`)
)

// Chunker splits contract text into section-aware chunks.
type Chunker struct {
	chunkSize int
}

// NewChunker creates a chunker. A non-positive chunkSize selects DefaultChunkSize.
func NewChunker(chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{chunkSize: chunkSize}
}

// Threshold returns the maximum character length of a single-section chunk.
func (c *Chunker) Threshold() int {
	return c.chunkSize * charsPerUnit
}

// ChunkDocument chunks text with the given chunk size.
func ChunkDocument(text string, chunkSize int) []*models.Chunk {
	return NewChunker(chunkSize).Chunk(text)
}

// Chunk splits text into ordered chunks. Sections within the threshold become one chunk; longer
// sections are packed sentence by sentence. Every chunk carries the §N label of its section and
// ids run chunk_1, chunk_2, ... across the whole document. Empty text yields no chunks.
func (c *Chunker) Chunk(text string) []*models.Chunk {
	if text == "" {
		return nil
	}
	threshold := c.Threshold()
	var chunks []*models.Chunk
	emit := func(body, section string) {
		chunks = append(chunks, &models.Chunk{
			ID:         fmt.Sprintf("chunk_%d", len(chunks)+1),
			Text:       body,
			Section:    section,
			ChunkIndex: len(chunks),
		})
	}
	for i, section := range SplitSections(text) {
		label := fmt.Sprintf("§%d", i+1)
		if utf8.RuneCountInString(section) <= threshold {
			emit(section, label)
			continue
		}
		parts := packSentences(SplitSentences(section), threshold)
		if len(parts) == 0 {
			// whitespace-only section
			parts = []string{section}
		}
		for _, part := range parts {
			emit(part, label)
		}
	}
	return chunks
}

// SplitSections splits text in front of every section marker. Markers stay at the start of the
// section they introduce and text before the first marker forms its own section.
func SplitSections(text string) []string {
	var sections []string
	start := 0
	for _, loc := range sectionBoundary.FindAllStringIndex(text, -1) {
		if loc[0] > start {
			sections = append(sections, text[start:loc[0]])
			start = loc[0]
		}
	}
	if start < len(text) {
		sections = append(sections, text[start:])
	}
	return sections
}

// SplitSentences splits text after runs of sentence terminators. Text after the last terminator
// is kept as a final sentence; text without any terminator is a single sentence.
func SplitSentences(text string) []string {
	locs := sentenceEnd.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}
	sentences := make([]string, 0, len(locs)+1)
	prev := 0
	for _, loc := range locs {
		sentences = append(sentences, text[prev:loc[1]])
		prev = loc[1]
	}
	if strings.TrimSpace(text[prev:]) != "" {
		sentences = append(sentences, text[prev:])
	}
	return sentences
}

// packSentences greedily joins sentences with single spaces, starting a new part whenever the
// next sentence would take the part past threshold characters. A sentence longer than the
// threshold forms its own part.
func packSentences(sentences []string, threshold int) []string {
	var (
		parts  []string
		buf    strings.Builder
		bufLen int
	)
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n := utf8.RuneCountInString(s)
		if bufLen > 0 && bufLen+1+n > threshold {
			parts = append(parts, buf.String())
			buf.Reset()
			bufLen = 0
		}
		if bufLen > 0 {
			buf.WriteByte(' ')
			bufLen++
		}
		buf.WriteString(s)
		bufLen += n
	}
	if bufLen > 0 {
		parts = append(parts, buf.String())
	}
	return parts
}
