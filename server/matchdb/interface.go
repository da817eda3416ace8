package matchdb

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateResult signals a result already stored for a session id.
	ErrDuplicateResult = errors.New("result already stored for session")
	// ErrResultNotFound signals no stored result for a session id.
	ErrResultNotFound = errors.New("result not found")
)

// MatchRecord is the durable outcome of one session.
type MatchRecord struct {
	SessionID  string    `gorm:"primaryKey;type:varchar(64)" json:"session_id"`
	Mode       string    `gorm:"type:varchar(16);not null" json:"mode"`
	WinnerID   string    `gorm:"index;not null" json:"winner_id"`
	WinnerSlot int32     `gorm:"not null" json:"winner_slot"`
	Reason     string    `gorm:"type:varchar(32);not null" json:"reason"`
	FinishedAt time.Time `gorm:"not null" json:"finished_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Store persists match outcomes. Implementations must make SaveResult
// first-write-wins per session id so a racing double-report is detectable.
type Store interface {
	// SaveResult stores a record; ErrDuplicateResult if the session id
	// already has one.
	SaveResult(ctx context.Context, rec *MatchRecord) error
	// FetchResult returns the stored record, ErrResultNotFound when absent.
	FetchResult(ctx context.Context, sessionID string) (*MatchRecord, error)
	Close() error
}
