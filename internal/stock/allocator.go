package stock

import (
	"sort"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/danielcervantes/clinicpos-backend/pkg/errors"
)

// BatchStock is an on-hand snapshot for one batch, the allocator's only input.
type BatchStock struct {
	BatchID     uuid.UUID
	BatchNumber string
	ExpiryDate  *time.Time
	Available   int
}

// Allocation is one draw the allocator planned against a batch.
type Allocation struct {
	BatchID  uuid.UUID
	Quantity int
}

// Allocate plans a first-expired-first-out draw of needed units from the given
// on-hand snapshot. Batches expire strictly before now; expired batches are
// skipped unless allowExpired is set. The returned allocations always sum to
// needed. Allocate never mutates anything; callers apply the plan through the
// stock mutator under the same lock they took for the snapshot read.
func Allocate(onHand []BatchStock, needed int, now time.Time, allowExpired bool) ([]Allocation, error) {
	if needed <= 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "allocation quantity must be positive, got %d", needed)
	}

	var candidates []BatchStock
	totalAll := 0
	totalUsable := 0
	for _, b := range onHand {
		if b.Available <= 0 {
			continue
		}
		totalAll += b.Available
		if !allowExpired && isExpired(b.ExpiryDate, now) {
			continue
		}
		totalUsable += b.Available
		candidates = append(candidates, b)
	}

	if totalUsable < needed {
		if totalAll >= needed {
			// Enough stock exists, but only in expired batches. Callers use
			// this signal to decide whether retrying with allowExpired helps.
			return nil, pkgerrors.Newf(pkgerrors.CodeExpiredStock,
				"only expired stock available: requested %d, non-expired %d", needed, totalUsable).
				WithDetails(map[string]any{
					"requested": needed,
					"available": totalUsable,
					"expired":   totalAll - totalUsable,
				})
		}
		return nil, pkgerrors.Newf(pkgerrors.CodeInsufficientStock,
			"insufficient stock: requested %d, available %d", needed, totalUsable).
			WithDetails(map[string]any{
				"requested": needed,
				"available": totalUsable,
			})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return fefoLess(candidates[i], candidates[j])
	})

	var plan []Allocation
	remaining := needed
	for _, b := range candidates {
		if remaining == 0 {
			break
		}
		take := b.Available
		if take > remaining {
			take = remaining
		}
		plan = append(plan, Allocation{BatchID: b.BatchID, Quantity: take})
		remaining -= take
	}
	return plan, nil
}

// fefoLess orders batches by ascending expiry, batches without an expiry after
// all dated ones, ties broken by batch number.
func fefoLess(a, b BatchStock) bool {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate == nil:
		return a.BatchNumber < b.BatchNumber
	case a.ExpiryDate == nil:
		return false
	case b.ExpiryDate == nil:
		return true
	case a.ExpiryDate.Equal(*b.ExpiryDate):
		return a.BatchNumber < b.BatchNumber
	default:
		return a.ExpiryDate.Before(*b.ExpiryDate)
	}
}

func isExpired(expiry *time.Time, now time.Time) bool {
	return expiry != nil && expiry.Before(now)
}
