// Package cli provides terminal output helpers for the legalyze command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/legalyze/legalyze/internal/fileid"
	"github.com/legalyze/legalyze/internal/models"
	"github.com/legalyze/legalyze/pkg/utils"
	"github.com/schollz/progressbar/v3"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

var (
	high   = color.New(color.FgRed, color.Bold)
	medium = color.New(color.FgYellow)
	low    = color.New(color.FgGreen)
	muted  = color.New(color.Faint)
)

// RiskColor returns the color used for a risk level.
func RiskColor(level models.RiskLevel) *color.Color {
	switch level {
	case models.RiskHigh:
		return high
	case models.RiskMedium:
		return medium
	default:
		return low
	}
}

// ScoreColor returns the color for a 0..100 risk score.
func ScoreColor(score int) *color.Color {
	switch {
	case score >= 70:
		return high
	case score >= 40:
		return medium
	default:
		return low
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search hits to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for _, hit := range response.Hits {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f (Keyword: %.4f, Semantic: %.4f)\n",
			hit.Rank, hit.Score, hit.KeywordScore, hit.SemanticScore)
		name := hit.FileName
		if name == "" {
			name = hit.ContractID
		}
		fmt.Fprintf(w, "Contract: %s [%s %s]\n", name, hit.ContractID, hit.Section)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(hit.Text, 200))
	}
	return nil
}

// WriteContracts writes a contract listing.
func WriteContracts(w io.Writer, contracts []*models.Contract, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, contracts)
	}
	if len(contracts) == 0 {
		fmt.Fprintln(w, "No contracts.")
		return nil
	}
	for _, c := range contracts {
		score := muted.Sprint("  -")
		if c.RiskScore != nil {
			score = ScoreColor(*c.RiskScore).Sprintf("%3d", *c.RiskScore)
		}
		fmt.Fprintf(w, "%s  %s  %-14s %-10s %3d chunks  %s\n",
			c.ID, score, c.Category, c.Status, c.ChunkCount, c.FileName)
	}
	return nil
}

// WriteContract writes one contract with its analysis.
func WriteContract(w io.Writer, c *models.Contract, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, c)
	}
	fmt.Fprintf(w, "%s (%s)\n", color.New(color.Bold).Sprint(c.FileName), c.ID)
	source := "upload"
	if fileid.IsPathID(c.ID) {
		source = "file"
	}
	fmt.Fprintf(w, "Category: %s  Status: %s  Source: %s  Chunks: %d  Messages: %d\n",
		c.Category, c.Status, source, c.ChunkCount, c.MessageCount)
	if !c.Analyzed() {
		fmt.Fprintln(w, muted.Sprint("Not analyzed yet."))
		return nil
	}
	contractType := c.ContractType
	if contractType == "" {
		contractType = "Unknown"
	}
	fmt.Fprintf(w, "Type: %s\n", contractType)
	if c.RiskScore != nil {
		fmt.Fprintf(w, "Risk score: %s\n", ScoreColor(*c.RiskScore).Sprintf("%d/100", *c.RiskScore))
	}
	if c.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", c.Summary)
	}
	if len(c.RiskFlags) > 0 {
		fmt.Fprintf(w, "\nRisk flags:\n")
		for _, f := range c.RiskFlags {
			fmt.Fprintf(w, "  %s %s", RiskColor(f.Level).Sprintf("[%s]", f.Level), f.Title)
			if f.Section != "" {
				fmt.Fprintf(w, " (%s)", f.Section)
			}
			fmt.Fprintln(w)
			if f.Description != "" {
				fmt.Fprintf(w, "      %s\n", f.Description)
			}
			if f.Suggestion != "" {
				fmt.Fprintf(w, "      %s %s\n", muted.Sprint("Suggestion:"), f.Suggestion)
			}
		}
	}
	if len(c.MissingClauses) > 0 {
		names := make([]string, len(c.MissingClauses))
		for i, m := range c.MissingClauses {
			names[i] = m.ClauseName
		}
		fmt.Fprintf(w, "\nMissing clauses: %s\n", strings.Join(names, ", "))
	}
	return nil
}

// WriteChunks writes the chunks of a contract with their section labels.
func WriteChunks(w io.Writer, chunks []*models.Chunk, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, chunks)
	}
	for _, ch := range chunks {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "%s %s (%d chars)\n", ch.ID, ch.Section, len([]rune(ch.Text)))
		fmt.Fprintf(w, "%s\n", ch.Text)
	}
	fmt.Fprintf(w, "\n%d chunks\n", len(chunks))
	return nil
}

// NewProgressBar returns a progress bar for total items.
func NewProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
