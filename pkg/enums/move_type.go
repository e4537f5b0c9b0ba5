package enums

import "fmt"

// MoveType classifies a single signed entry in the stock ledger.
type MoveType string

const (
	MoveTypePurchaseIn    MoveType = "purchase_in"
	MoveTypeAdjustmentIn  MoveType = "adjustment_in"
	MoveTypeAdjustmentOut MoveType = "adjustment_out"
	MoveTypeTransferIn    MoveType = "transfer_in"
	MoveTypeTransferOut   MoveType = "transfer_out"
	MoveTypeSaleOut       MoveType = "sale_out"
	MoveTypeWasteOut      MoveType = "waste_out"
	MoveTypeRefundIn      MoveType = "refund_in"
)

var validMoveTypes = []MoveType{
	MoveTypePurchaseIn,
	MoveTypeAdjustmentIn,
	MoveTypeAdjustmentOut,
	MoveTypeTransferIn,
	MoveTypeTransferOut,
	MoveTypeSaleOut,
	MoveTypeWasteOut,
	MoveTypeRefundIn,
}

// String implements fmt.Stringer.
func (m MoveType) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MoveType.
func (m MoveType) IsValid() bool {
	for _, candidate := range validMoveTypes {
		if candidate == m {
			return true
		}
	}
	return false
}

// IsInbound reports whether the move type adds stock. Inbound types require a
// positive quantity, outbound types a negative one.
func (m MoveType) IsInbound() bool {
	switch m {
	case MoveTypePurchaseIn, MoveTypeAdjustmentIn, MoveTypeTransferIn, MoveTypeRefundIn:
		return true
	default:
		return false
	}
}

// ParseMoveType converts raw input into a MoveType.
func ParseMoveType(value string) (MoveType, error) {
	for _, candidate := range validMoveTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid move type %q", value)
}
