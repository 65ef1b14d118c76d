// Database models for ingested documents and their chunks
package db

import "time"

// Document is a unit of ingested material belonging to exactly one case.
// Immutable after creation except for re-derivable annotation fields.
type Document struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	CaseID   string `json:"case_id" gorm:"index;size:36;not null"`
	DocType  string `json:"doc_type" gorm:"size:50;default:'text'"` // text, pdf, transcript, ...
	Source   string `json:"source,omitempty" gorm:"size:255"`       // filename or origin label
	Content  string `json:"-" gorm:"type:text;not null"`

	ChunkCount int `json:"chunk_count"`

	// Annotations derived at ingestion time
	Entities EntityList  `json:"entities" gorm:"type:json"`
	Keywords StringArray `json:"keywords" gorm:"type:json"`
	IOCs     IocMap      `json:"iocs" gorm:"type:json"`

	CreatedAt time.Time `json:"created_at"`
}

func (Document) TableName() string {
	return "documents"
}

// Chunk is a bounded contiguous span of a document's text, the unit of
// embedding and retrieval. Ordinal preserves document order; concatenating a
// document's chunks with the configured overlap removed reconstructs the
// original token sequence.
type Chunk struct {
	ID         string `json:"id" gorm:"primaryKey;size:36"`
	DocumentID string `json:"document_id" gorm:"index;size:36;not null"`
	CaseID     string `json:"case_id" gorm:"index;size:36;not null"`
	Ordinal    int    `json:"ordinal" gorm:"not null"`
	Text       string `json:"text" gorm:"type:text;not null"`
	TokenCount int    `json:"token_count"`

	// Seq is a monotonically increasing ingestion sequence assigned by the
	// case service, used to break similarity-score ties (most recent first).
	// sqlite only auto-increments primary keys, so it is set explicitly.
	Seq int64 `json:"seq" gorm:"index;not null"`

	CreatedAt time.Time `json:"created_at"`
}

func (Chunk) TableName() string {
	return "chunks"
}

// IocRecord traces a single extracted indicator back to its source document.
// Case-wide aggregation happens with set semantics per type; records keep the
// per-document provenance.
type IocRecord struct {
	ID         uint   `json:"-" gorm:"primaryKey;autoIncrement"`
	CaseID     string `json:"case_id" gorm:"index;size:36;not null"`
	DocumentID string `json:"document_id" gorm:"index;size:36;not null"`
	IocType    string `json:"ioc_type" gorm:"size:30;not null"`
	Value      string `json:"value" gorm:"size:500;not null"`

	CreatedAt time.Time `json:"created_at"`
}

func (IocRecord) TableName() string {
	return "ioc_records"
}
