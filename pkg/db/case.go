// Database models for investigation cases
package db

import "time"

// CaseType classifies a case
type CaseType string

const (
	CaseTypeIntelligence  CaseType = "intelligence"
	CaseTypeInvestigation CaseType = "investigation"
	CaseTypeSurveillance  CaseType = "surveillance"
	CaseTypeAnalysis      CaseType = "analysis"
)

// ValidCaseType reports whether t names a known case type.
func ValidCaseType(t CaseType) bool {
	switch t {
	case CaseTypeIntelligence, CaseTypeInvestigation, CaseTypeSurveillance, CaseTypeAnalysis:
		return true
	}
	return false
}

// Case status
const (
	CaseStatusActive = "active"
	CaseStatusClosed = "closed"
)

// Case is an investigation workspace scoping documents, queries and
// conversation history. Mutated only through the case service.
type Case struct {
	ID          string   `json:"id" gorm:"primaryKey;size:36"`
	Title       string   `json:"title" gorm:"size:200;not null"`
	CaseType    CaseType `json:"case_type" gorm:"size:20;not null;default:'intelligence'"`
	Description string   `json:"description" gorm:"type:text"`
	Status      string   `json:"status" gorm:"index;size:20;default:'active'"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Case) TableName() string {
	return "cases"
}

// CaseStatistics is the aggregate view over a case's current documents.
// Always derivable by re-aggregation; cached copies are invalidated on every
// ingestion.
type CaseStatistics struct {
	TotalDocuments int              `json:"total_documents"`
	TotalChunks    int              `json:"total_chunks"`
	TotalEntities  int              `json:"total_entities"`
	TotalIOCs      int              `json:"total_iocs"`
	DocumentTypes  map[string]int   `json:"document_types"`
	TopKeywords    []KeywordCount   `json:"top_keywords"`
	IOCs           IocMap           `json:"iocs"`
}

// KeywordCount pairs a keyword with its case-wide document frequency.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}
