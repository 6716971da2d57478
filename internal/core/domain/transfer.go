package domain

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
)

// Leg is one signed balance change inside a transfer.
type Leg struct {
	AccountID uuid.UUID
	Delta     int64
}

// StatusChange finalizes an existing pending entry within a transfer.
type StatusChange struct {
	Entry *LedgerEntry
	To    EntryStatus
}

// Transfer is the unit applied atomically by the escrow transfer protocol:
// balance legs, new ledger entries and status changes on existing entries.
//
// Internal transfers move money between accounts and must net to zero.
// External transfers record money entering or leaving the platform
// (gateway topups, manual operations) and are exempt from that rule.
type Transfer struct {
	Operation   string
	Currency    string
	External    bool
	Legs        []Leg
	Entries     []*LedgerEntry
	Transitions []StatusChange
}

var (
	ErrEmptyTransfer    = errors.New("transfer has nothing to apply")
	ErrZeroDelta        = errors.New("transfer leg has zero delta")
	ErrCurrencyMismatch = errors.New("entry currency differs from transfer currency")
	ErrDeltaOverflow    = errors.New("transfer delta overflows")
)

// UnbalancedError reports an internal transfer whose legs do not net to zero.
type UnbalancedError struct{ Net int64 }

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("internal transfer nets to %d", e.Net)
}

// LedgerMismatchError reports a leg that is not matched by completed entries.
type LedgerMismatchError struct {
	AccountID     uuid.UUID
	Delta, Ledger int64
}

func (e *LedgerMismatchError) Error() string {
	return fmt.Sprintf("account %s: delta %d but completed entries sum to %d", e.AccountID, e.Delta, e.Ledger)
}

// Net returns the sum of all leg deltas.
func (t *Transfer) Net() int64 {
	var sum int64
	for _, l := range t.Legs {
		sum += l.Delta
	}
	return sum
}

// SortedLegs merges legs per account and orders them by account id bytes.
// Locks must be taken in this order.
func (t *Transfer) SortedLegs() ([]Leg, error) {
	merged := make(map[uuid.UUID]int64, len(t.Legs))
	for _, l := range t.Legs {
		cur := merged[l.AccountID]
		if (l.Delta > 0 && cur > math.MaxInt64-l.Delta) || (l.Delta < 0 && cur < math.MinInt64-l.Delta) {
			return nil, ErrDeltaOverflow
		}
		merged[l.AccountID] = cur + l.Delta
	}

	out := make([]Leg, 0, len(merged))
	for id, delta := range merged {
		out = append(out, Leg{AccountID: id, Delta: delta})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].AccountID[:], out[j].AccountID[:]) < 0
	})
	return out, nil
}

// Validate checks the transfer's shape before any row is locked.
func (t *Transfer) Validate() error {
	if len(t.Legs) == 0 && len(t.Entries) == 0 && len(t.Transitions) == 0 {
		return ErrEmptyTransfer
	}
	for _, l := range t.Legs {
		if l.Delta == 0 {
			return ErrZeroDelta
		}
	}
	if !t.External {
		if net := t.Net(); net != 0 {
			return &UnbalancedError{Net: net}
		}
	}

	ledger := make(map[uuid.UUID]int64)
	for _, e := range t.Entries {
		if e.Currency != t.Currency {
			return ErrCurrencyMismatch
		}
		if e.Status == EntryCompleted {
			ledger[e.AccountID] += e.Amount
		}
	}
	for _, c := range t.Transitions {
		if c.Entry.Currency != t.Currency {
			return ErrCurrencyMismatch
		}
		if c.To == EntryCompleted {
			ledger[c.Entry.AccountID] += c.Entry.Amount
		}
	}

	legs, err := t.SortedLegs()
	if err != nil {
		return err
	}
	for _, l := range legs {
		if ledger[l.AccountID] != l.Delta {
			return &LedgerMismatchError{AccountID: l.AccountID, Delta: l.Delta, Ledger: ledger[l.AccountID]}
		}
		delete(ledger, l.AccountID)
	}
	for id, sum := range ledger {
		if sum != 0 {
			return &LedgerMismatchError{AccountID: id, Ledger: sum}
		}
	}
	return nil
}

// EntriesFor returns the ids of new or finalized entries touching accountID.
func (t *Transfer) EntriesFor(accountID uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID
	for _, e := range t.Entries {
		if e.AccountID == accountID {
			ids = append(ids, e.ID)
		}
	}
	for _, c := range t.Transitions {
		if c.Entry.AccountID == accountID {
			ids = append(ids, c.Entry.ID)
		}
	}
	return ids
}
