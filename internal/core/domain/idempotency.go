package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// DealStage names the money movement of a deal transition in its source ids.
type DealStage string

const (
	StagePayment DealStage = "payment"
	StageRelease DealStage = "release"
	StageRefund  DealStage = "refund"
)

// DealSourceID builds the internal source id of one deal leg, e.g.
// "deal_payment_<id>_buyer". The (source, source_id) uniqueness makes a
// second application of the same leg impossible.
func DealSourceID(stage DealStage, dealID uuid.UUID, party string) string {
	return fmt.Sprintf("deal_%s_%s_%s", stage, dealID, party)
}

// BuildManualOperationKey scopes a client-supplied idempotency key to the operator.
func BuildManualOperationKey(operatorID uuid.UUID, key string) string {
	return "manual:" + operatorID.String() + ":" + key
}

// BuildGatewayEventKey is the cache key of a processed gateway payment.
func BuildGatewayEventKey(paymentID string) string {
	return "gateway:event:" + paymentID
}
