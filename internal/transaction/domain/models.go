package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/smallbiznis/sentinel/internal/client/domain"
)

var (
	ErrNotFound = errors.New("not_found")

	// ErrConflictingResend marks a resent transaction ID whose content does
	// not match the stored record. The engine surfaces it and never guesses
	// which version is right.
	ErrConflictingResend = errors.New("conflicting_resend")
)

// ValidationError rejects one malformed record before it reaches any window
// state. It is per-record fatal only; a batch continues past it.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Transaction is one version of an ingested transaction. Corrections append
// higher versions under the same external ID; rows are never rewritten.
type Transaction struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	ExternalID   string        `gorm:"size:128;uniqueIndex:idx_transactions_external_version,priority:1" json:"external_id"`
	Version      int           `gorm:"uniqueIndex:idx_transactions_external_version,priority:2" json:"version"`
	ClientID     snowflake.ID  `gorm:"index:idx_transactions_client" json:"client_id"`
	Amount       float64       `json:"amount"`
	Currency     string        `gorm:"size:3" json:"currency"`
	OccurredAt   time.Time     `gorm:"index:idx_transactions_occurred" json:"occurred_at"`
	Description  *string       `gorm:"size:512" json:"description,omitempty"`
	ContentHash  string        `gorm:"size:64" json:"-"`
	SupersedesID *snowflake.ID `json:"supersedes_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// ContentHash fingerprints the business content of a transaction so resends
// can be told apart from conflicting rewrites. Currency and timestamps are
// normalized before hashing.
func ContentHash(clientExternalID string, amount float64, currency string, occurredAt time.Time) string {
	payload := fmt.Sprintf("%s|%s|%s|%s",
		clientExternalID,
		strconv.FormatFloat(amount, 'f', -1, 64),
		currency,
		occurredAt.UTC().Format(time.RFC3339Nano),
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// IngestRequest carries one cleaned upstream record. OccurredAt stays a
// string so a bad timestamp rejects the one record, not the whole batch.
type IngestRequest struct {
	ExternalID  string  `json:"external_id"`
	ClientID    string  `json:"client_id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	OccurredAt  string  `json:"occurred_at"`
	Description *string `json:"description,omitempty"`
}

// IngestOutcome reports a persisted or already-known transaction along with
// the client it belongs to.
type IngestOutcome struct {
	Transaction *Transaction
	Client      *clientdomain.Client
	Duplicate   bool
}

type CorrectRequest struct {
	ExternalID  string  `json:"-"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	OccurredAt  string  `json:"occurred_at"`
	Description *string `json:"description,omitempty"`
}
