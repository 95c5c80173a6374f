// Package models defines core data structures for contracts, chunks, messages and analysis results.
package models

import (
	"strings"
	"time"
)

// Category groups contracts in listings.
type Category string

const (
	CategoryAdministrative Category = "ADMINISTRATIVE"
	CategoryEducational    Category = "EDUCATIONAL"
	CategoryLegal          Category = "LEGAL"
	CategoryBusiness       Category = "BUSINESS"
)

// Categories lists every accepted category.
var Categories = []Category{CategoryAdministrative, CategoryEducational, CategoryLegal, CategoryBusiness}

// ParseCategory normalizes s to a known category. Unknown or empty values fall back to LEGAL.
func ParseCategory(s string) Category {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return CategoryLegal
}

// Status is the processing state of a contract.
type Status string

const (
	StatusUploading  Status = "UPLOADING"
	StatusProcessing Status = "PROCESSING"
	StatusComplete   Status = "COMPLETE"
	StatusError      Status = "ERROR"
)

// ParseStatus returns the status for s (case-insensitive) and whether it is known.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusUploading, StatusProcessing, StatusComplete, StatusError:
		return st, true
	}
	return "", false
}

// Contract is an uploaded document together with its analysis results.
type Contract struct {
	ID           string     `json:"id" db:"id"`
	FileName     string     `json:"fileName" db:"file_name"`
	FileType     string     `json:"fileType" db:"file_type"`
	FileSize     int64      `json:"fileSize" db:"file_size"`
	FilePath     string     `json:"-" db:"file_path"`
	Category     Category   `json:"category" db:"category"`
	Status       Status     `json:"status" db:"status"`
	ContractType string     `json:"contractType,omitempty" db:"contract_type"`
	RiskScore    *int       `json:"riskScore,omitempty" db:"risk_score"`
	Summary      string     `json:"summary,omitempty" db:"summary"`
	Text         string     `json:"-" db:"text"`
	SourceMtime  int64      `json:"-" db:"source_mtime"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
	AnalyzedAt   *time.Time `json:"analyzedAt,omitempty" db:"analyzed_at"`

	RiskFlags      []*RiskFlag      `json:"riskFlags,omitempty" db:"-"`
	MissingClauses []*MissingClause `json:"missingClauses,omitempty" db:"-"`
	ChunkCount     int              `json:"chunkCount" db:"-"`
	MessageCount   int              `json:"messageCount" db:"-"`
}

// Analyzed reports whether a risk analysis has been stored for the contract.
func (c *Contract) Analyzed() bool {
	return c.AnalyzedAt != nil
}

// ContractInput is the input for ingesting a new contract.
type ContractInput struct {
	ID          string   `json:"id,omitempty"`
	FileName    string   `json:"fileName"`
	Category    Category `json:"category,omitempty"`
	Content     []byte   `json:"-"`
	SourcePath  string   `json:"-"`
	SourceMtime int64    `json:"-"`
}

// ContractFilter selects contracts for listing.
type ContractFilter struct {
	Category Category `json:"category,omitempty"`
	Status   Status   `json:"status,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// Normalize applies the default limit (20) and caps it at 100.
func (f *ContractFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
}
