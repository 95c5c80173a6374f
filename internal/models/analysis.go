package models

import (
	"fmt"
	"strings"
)

// RiskLevel is the severity of a risk flag.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

// RiskFlag is a risky clause identified by analysis.
type RiskFlag struct {
	ID          string    `json:"id" db:"id"`
	ContractID  string    `json:"contractId,omitempty" db:"contract_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description,omitempty" db:"description"`
	Section     string    `json:"section" db:"section"`
	Level       RiskLevel `json:"riskLevel" db:"risk_level"`
	Suggestion  string    `json:"suggestion,omitempty" db:"suggestion"`
}

// MissingClause is an expected clause that analysis did not find.
type MissingClause struct {
	ID         string `json:"id" db:"id"`
	ContractID string `json:"contractId,omitempty" db:"contract_id"`
	ClauseName string `json:"clauseName" db:"clause_name"`
}

// AnalysisFlag is a risk flag as returned by the analysis model.
type AnalysisFlag struct {
	Section     string `json:"section"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

// Analysis is the structured risk report produced for a contract.
type Analysis struct {
	ContractType   string         `json:"contract_type"`
	RiskScore      float64        `json:"risk_score"`
	Summary        string         `json:"summary"`
	Flags          []AnalysisFlag `json:"flags"`
	MissingClauses []string       `json:"missing_clauses"`
}

// Validate normalizes severities and clamps the risk score to 0..100.
// Returns an error for unknown severities or a flag without a title.
func (a *Analysis) Validate() error {
	if a.RiskScore < 0 {
		a.RiskScore = 0
	}
	if a.RiskScore > 100 {
		a.RiskScore = 100
	}
	for i := range a.Flags {
		f := &a.Flags[i]
		f.Severity = strings.ToUpper(strings.TrimSpace(f.Severity))
		switch RiskLevel(f.Severity) {
		case RiskHigh, RiskMedium, RiskLow:
		default:
			return fmt.Errorf("flag %d: unknown severity %q", i, f.Severity)
		}
		if strings.TrimSpace(f.Title) == "" {
			return fmt.Errorf("flag %d: title is required", i)
		}
	}
	return nil
}

// Score returns the risk score rounded to the nearest integer.
func (a *Analysis) Score() int {
	return int(a.RiskScore + 0.5)
}
