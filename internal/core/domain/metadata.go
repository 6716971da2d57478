package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MetaKind is the closed set of value kinds a Metadata value can hold.
type MetaKind string

const (
	MetaString MetaKind = "string"
	MetaNumber MetaKind = "number"
	MetaID     MetaKind = "id"
)

// MetaValue is one typed metadata value.
type MetaValue struct {
	kind MetaKind
	str  string
	num  int64
	id   uuid.UUID
}

func StringValue(s string) MetaValue { return MetaValue{kind: MetaString, str: s} }
func NumberValue(n int64) MetaValue  { return MetaValue{kind: MetaNumber, num: n} }
func IDValue(id uuid.UUID) MetaValue { return MetaValue{kind: MetaID, id: id} }
func (v MetaValue) Kind() MetaKind   { return v.kind }
func (v MetaValue) Str() string      { return v.str }
func (v MetaValue) Num() int64       { return v.num }
func (v MetaValue) ID() uuid.UUID    { return v.id }

type metaWire struct {
	Kind  MetaKind        `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func (v MetaValue) MarshalJSON() ([]byte, error) {
	var raw []byte
	var err error
	switch v.kind {
	case MetaString:
		raw, err = json.Marshal(v.str)
	case MetaNumber:
		raw, err = json.Marshal(v.num)
	case MetaID:
		raw, err = json.Marshal(v.id.String())
	default:
		return nil, fmt.Errorf("metadata: unknown kind %q", v.kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(metaWire{Kind: v.kind, Value: raw})
}

func (v *MetaValue) UnmarshalJSON(data []byte) error {
	var w metaWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case MetaString:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case MetaNumber:
		var n int64
		if err := json.Unmarshal(w.Value, &n); err != nil {
			return err
		}
		*v = NumberValue(n)
	case MetaID:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
		*v = IDValue(id)
	default:
		return fmt.Errorf("metadata: unknown kind %q", w.Kind)
	}
	return nil
}

// Metadata is the structured, typed annotation attached to ledger entries.
type Metadata map[string]MetaValue

// Well-known metadata keys.
const (
	MetaKeyDealID          = "deal_id"
	MetaKeyProductID       = "product_id"
	MetaKeyBoostDays       = "boost_days"
	MetaKeyPaymentIntentID = "payment_intent_id"
	MetaKeyUserID          = "user_id"
	MetaKeyReason          = "reason"
	MetaKeyOperator        = "operator_id"
)
