// Database models for conversation sessions
package db

import "time"

// Turn roles
const (
	TurnRoleUser      = "user"
	TurnRoleAssistant = "assistant"
)

// ConversationTurn is one message in a bounded per-(case, session) history
// window. History feeds prompt assembly only; documents remain the
// authoritative investigative record.
type ConversationTurn struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	SessionID string    `json:"session_id" gorm:"index:idx_turn_session_case;size:36;not null"`
	CaseID    string    `json:"case_id" gorm:"index:idx_turn_session_case;size:36"`
	Role      string    `json:"role" gorm:"size:20;not null"`
	Text      string    `json:"text" gorm:"type:text;not null"`
	Seq       int64     `json:"seq" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (ConversationTurn) TableName() string {
	return "conversation_turns"
}
