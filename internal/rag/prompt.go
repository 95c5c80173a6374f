package rag

import (
	"fmt"
	"strings"

	"github.com/legalyze/legalyze/internal/models"
)

const contextSeparator = "\n\n---\n\n"

const systemInstructions = `You are Legalyze AI, a legal contract analyst.
Answer questions about this contract using ONLY the context chunks provided.
Always cite which section (§) your answer comes from.
Flag risks clearly using: 🔴 HIGH RISK, 🟡 MEDIUM RISK, ✅ SAFE.
Never make up clauses not present in the context.
Be concise, plain English, non-lawyer friendly.`

// FormatChunk renders one retrieved chunk; position is 1-based.
func FormatChunk(position int, sc *models.ScoredChunk) string {
	return fmt.Sprintf("[CHUNK %d - %s - Relevance: %.2f]\n%s", position, sc.Chunk.Section, sc.Score, sc.Chunk.Text)
}

// BuildContext formats ranked chunks into the prompt context. Chunks are added in rank order
// while the context fits within budget tokens; the best chunk is always kept. budget <= 0 means
// no limit. Returns the context and the ids of the chunks it contains.
func BuildContext(scored []*models.ScoredChunk, counter *TokenCounter, budget int) (string, []string) {
	var (
		parts []string
		ids   []string
		used  int
	)
	for _, sc := range scored {
		part := FormatChunk(len(parts)+1, sc)
		cost := counter.Count(part)
		if len(parts) > 0 {
			cost += counter.Count(contextSeparator)
		}
		if budget > 0 && len(parts) > 0 && used+cost > budget {
			break
		}
		parts = append(parts, part)
		ids = append(ids, sc.Chunk.ID)
		used += cost
	}
	return strings.Join(parts, contextSeparator), ids
}

// AnalysisSummary renders the stored risk analysis of c, or "" when c has not been analyzed.
func AnalysisSummary(c *models.Contract) string {
	if c == nil || !c.Analyzed() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "FILE: %s\n", c.FileName)
	contractType := c.ContractType
	if contractType == "" {
		contractType = "Unknown"
	}
	fmt.Fprintf(&b, "TYPE: %s\n", contractType)
	if c.RiskScore != nil {
		fmt.Fprintf(&b, "RISK SCORE: %d/100\n", *c.RiskScore)
	} else {
		b.WriteString("RISK SCORE: Not yet analyzed\n")
	}
	summary := c.Summary
	if summary == "" {
		summary = "No summary available"
	}
	fmt.Fprintf(&b, "SUMMARY: %s\n\nIDENTIFIED RISK FLAGS:\n", summary)
	if len(c.RiskFlags) == 0 {
		b.WriteString("No risk flags identified.")
	}
	for i, f := range c.RiskFlags {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%s] %s (%s): %s", f.Level, f.Title, f.Section, f.Description)
	}
	return b.String()
}

// SystemPrompt builds the chat system prompt from the retrieved context. The stored analysis of
// the contract, if any, is placed ahead of the context.
func SystemPrompt(c *models.Contract, context string) string {
	var b strings.Builder
	b.WriteString(systemInstructions)
	if summary := AnalysisSummary(c); summary != "" {
		b.WriteString("\n\nCONTRACT ANALYSIS:\n")
		b.WriteString(summary)
	}
	b.WriteString("\n\nCONTRACT CONTEXT:\n")
	b.WriteString(context)
	return b.String()
}
