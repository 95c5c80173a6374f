// Package analysis produces the structured risk report of a contract with a chat model.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/legalyze/legalyze/internal/llm"
	"github.com/legalyze/legalyze/internal/models"
	"github.com/legalyze/legalyze/internal/storage"
	"github.com/legalyze/legalyze/pkg/utils"
	"go.uber.org/zap"
)

const (
	// MaxTextRunes is the amount of contract text sent to the model.
	MaxTextRunes = 25000
	// maxTokens leaves room for long flag lists in the JSON reply.
	maxTokens = 4096
)

// ErrNoText is returned for contracts without extracted text.
var ErrNoText = errors.New("contract has no text to analyze")

const systemPrompt = `You are a senior contract attorney. Analyze the provided contract text and return a structured risk report.

Identify:
1. High-risk clauses (unlimited liability, one-sided IP, unfair termination, non-compete overreach, etc.)
2. Missing standard protections for this contract type
3. Unusual or one-sided language compared to standard contracts of that type

For each flag include: section name, severity (HIGH/MEDIUM/LOW), title, plain-English description, and a specific suggested fix.

Determine the contract type automatically. Calculate a risk score from 0-100 (100 = extremely risky).

Respond with a single JSON object of this shape:
{"contract_type": "NDA", "risk_score": 0, "summary": "2-3 sentence plain-English summary",
 "flags": [{"section": "§7.2 Liability", "severity": "HIGH", "title": "...", "description": "...", "suggestion": "..."}],
 "missing_clauses": ["Termination Rights"]}`

// Result summarizes a stored analysis.
type Result struct {
	ContractID         string `json:"contractId"`
	ContractType       string `json:"contractType"`
	RiskScore          int    `json:"riskScore"`
	Summary            string `json:"summary"`
	FlagCount          int    `json:"flagCount"`
	MissingClauseCount int    `json:"missingClauseCount"`
}

// Analyzer runs risk analysis and stores its results.
type Analyzer struct {
	storage storage.Storage
	model   llm.ChatModel
	name    string
	logger  *zap.Logger
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) AnalyzerOption {
	return func(a *Analyzer) { a.logger = l }
}

// WithModelName overrides the completion model used for analysis.
func WithModelName(name string) AnalyzerOption {
	return func(a *Analyzer) { a.name = name }
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(store storage.Storage, model llm.ChatModel, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{storage: store, model: model, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze marks the contract PROCESSING, asks the model for a risk report and stores it, which
// marks the contract COMPLETE. Any failure after the contract is found marks it ERROR.
func (a *Analyzer) Analyze(ctx context.Context, contractID string) (*Result, error) {
	c, err := a.storage.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := a.storage.UpdateContractStatus(ctx, contractID, models.StatusProcessing); err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	result, err := a.analyze(ctx, c)
	if err != nil {
		// The request context may be gone; the status update must still land.
		statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if statusErr := a.storage.UpdateContractStatus(statusCtx, contractID, models.StatusError); statusErr != nil {
			a.logger.Warn("failed to mark contract as errored", zap.String("id", contractID), zap.Error(statusErr))
		}
		return nil, err
	}
	a.logger.Info("contract analyzed",
		zap.String("id", contractID),
		zap.String("type", result.ContractType),
		zap.Int("risk_score", result.RiskScore),
		zap.Int("flags", result.FlagCount))
	return result, nil
}

func (a *Analyzer) analyze(ctx context.Context, c *models.Contract) (*Result, error) {
	text := strings.TrimSpace(c.Text)
	if text == "" {
		return nil, ErrNoText
	}
	reply, err := a.model.Complete(ctx, llm.Request{
		System:    systemPrompt,
		Messages:  []models.ChatTurn{{Role: models.RoleUser, Content: "CONTRACT TEXT:\n" + utils.TruncateRunes(text, MaxTextRunes)}},
		Model:     a.name,
		MaxTokens: maxTokens,
		JSON:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze contract: %w", err)
	}
	analysis, err := ParseAnalysis(reply)
	if err != nil {
		return nil, err
	}

	stored := &storage.AnalysisResult{
		ContractType: analysis.ContractType,
		RiskScore:    analysis.Score(),
		Summary:      analysis.Summary,
		AnalyzedAt:   time.Now().UTC(),
	}
	for _, f := range analysis.Flags {
		stored.RiskFlags = append(stored.RiskFlags, &models.RiskFlag{
			ID:          uuid.New().String(),
			ContractID:  c.ID,
			Title:       f.Title,
			Description: f.Description,
			Section:     f.Section,
			Level:       models.RiskLevel(f.Severity),
			Suggestion:  f.Suggestion,
		})
	}
	for _, name := range analysis.MissingClauses {
		if strings.TrimSpace(name) == "" {
			continue
		}
		stored.MissingClauses = append(stored.MissingClauses, &models.MissingClause{
			ID:         uuid.New().String(),
			ContractID: c.ID,
			ClauseName: strings.TrimSpace(name),
		})
	}
	if err := a.storage.SaveAnalysis(ctx, c.ID, stored); err != nil {
		return nil, fmt.Errorf("failed to store analysis: %w", err)
	}
	return &Result{
		ContractID:         c.ID,
		ContractType:       stored.ContractType,
		RiskScore:          stored.RiskScore,
		Summary:            stored.Summary,
		FlagCount:          len(stored.RiskFlags),
		MissingClauseCount: len(stored.MissingClauses),
	}, nil
}

// ParseAnalysis decodes and validates a model reply. Markdown code fences around the JSON
// object are ignored.
func ParseAnalysis(reply string) (*models.Analysis, error) {
	body := strings.TrimSpace(reply)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	var analysis models.Analysis
	if err := json.Unmarshal([]byte(body), &analysis); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	if err := analysis.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis: %w", err)
	}
	return &analysis, nil
}
