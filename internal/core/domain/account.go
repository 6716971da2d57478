package domain

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Account holds one owner's balance in one currency.
// Balance is an integer count of minor units and is never negative at rest.
type Account struct {
	ID            uuid.UUID `json:"id"`
	OwnerID       uuid.UUID `json:"owner_id"`
	Currency      string    `json:"currency"`
	Balance       int64     `json:"balance"`
	LastAuditHash string    `json:"-"` // hash chain over applied deltas
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewAccount builds a zero-balance account for owner/currency.
func NewAccount(ownerID uuid.UUID, currency string) *Account {
	now := time.Now().UTC()
	return &Account{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NextAuditHash extends the account's hash chain with one applied delta.
// entryIDs are the ledger entries written for this account in the same transfer.
func NextAuditHash(prev string, accountID uuid.UUID, delta, balance int64, entryIDs []uuid.UUID) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(prev))
	h.Write(accountID[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(delta))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(balance))
	h.Write(buf[:])

	for _, id := range entryIDs {
		h.Write(id[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
