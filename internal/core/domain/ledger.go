package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind classifies a ledger movement.
type EntryKind string

const (
	KindTopup      EntryKind = "topup"
	KindPayment    EntryKind = "payment"
	KindWithdrawal EntryKind = "withdrawal"
	KindRefund     EntryKind = "refund"
	KindFee        EntryKind = "fee"
	KindAdjustment EntryKind = "adjustment"
)

// Valid reports whether k is a known kind.
func (k EntryKind) Valid() bool {
	switch k {
	case KindTopup, KindPayment, KindWithdrawal, KindRefund, KindFee, KindAdjustment:
		return true
	}
	return false
}

// EntryStatus is the lifecycle state of a ledger entry.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
	EntryCancelled EntryStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s EntryStatus) Valid() bool {
	switch s {
	case EntryPending, EntryCompleted, EntryFailed, EntryCancelled:
		return true
	}
	return false
}

// IsFinal returns true once the entry can no longer change.
func (s EntryStatus) IsFinal() bool {
	return s != EntryPending
}

// CanTransition is the only legal status graph: pending -> completed|failed.
func CanTransition(from, to EntryStatus) bool {
	return from == EntryPending && (to == EntryCompleted || to == EntryFailed)
}

// EntrySource classifies where a movement originated.
type EntrySource string

const (
	SourceExternalGateway EntrySource = "external-gateway"
	SourceManual          EntrySource = "manual"
	SourceSystem          EntrySource = "system"
	SourceInternal        EntrySource = "internal"
)

// LedgerEntry is an immutable record of one monetary movement on one account.
// Amount is signed minor units: credits are positive, debits negative.
// Only Status and CompletedAt ever change after the entry is written.
type LedgerEntry struct {
	ID             uuid.UUID   `json:"id"`
	AccountID      uuid.UUID   `json:"account_id"`
	OwnerID        uuid.UUID   `json:"owner_id"`
	Kind           EntryKind   `json:"kind"`
	Amount         int64       `json:"amount"`
	Currency       string      `json:"currency"`
	Status         EntryStatus `json:"status"`
	Description    string      `json:"description"`
	Source         EntrySource `json:"source"`
	SourceID       *string     `json:"source_id,omitempty"`
	Metadata       Metadata    `json:"metadata,omitempty"`
	IdempotencyKey *string     `json:"-"`
	DealID         *uuid.UUID  `json:"deal_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// EntryDraft carries the caller-supplied fields of a new entry.
type EntryDraft struct {
	Account        *Account
	Kind           EntryKind
	Amount         int64
	Status         EntryStatus
	Description    string
	Source         EntrySource
	SourceID       string
	Metadata       Metadata
	IdempotencyKey string
	DealID         *uuid.UUID
}

// NewLedgerEntry stamps id, timestamps and account-derived fields onto a draft.
// Completed entries get CompletedAt equal to CreatedAt.
func NewLedgerEntry(d EntryDraft) *LedgerEntry {
	now := time.Now().UTC()
	e := &LedgerEntry{
		ID:          uuid.New(),
		AccountID:   d.Account.ID,
		OwnerID:     d.Account.OwnerID,
		Kind:        d.Kind,
		Amount:      d.Amount,
		Currency:    d.Account.Currency,
		Status:      d.Status,
		Description: d.Description,
		Source:      d.Source,
		Metadata:    d.Metadata,
		DealID:      d.DealID,
		CreatedAt:   now,
	}
	if e.Status == "" {
		e.Status = EntryCompleted
	}
	if d.SourceID != "" {
		sid := d.SourceID
		e.SourceID = &sid
	}
	if d.IdempotencyKey != "" {
		key := d.IdempotencyKey
		e.IdempotencyKey = &key
	}
	if e.Status == EntryCompleted {
		e.CompletedAt = &now
	}
	return e
}

// HasSource reports whether the entry carries an external (source, source_id) pair.
func (e *LedgerEntry) HasSource() bool {
	return e.SourceID != nil && *e.SourceID != ""
}
