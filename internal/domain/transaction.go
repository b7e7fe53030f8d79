package domain

import "time"

// Transaction is an immutable, append-only record of one executed fill.
// SignedAmount's sign encodes direction (positive = bought, negative =
// sold); |SignedAmount| is the share count.
type Transaction struct {
	ID          string
	AssetID     AssetID
	OrderID     string
	Timestamp   time.Time
	SignedAmount float64
	Price        float64
	Commission   float64
	Side         OrderSide
}

// Qty returns the unsigned share count of this fill.
func (t Transaction) Qty() float64 {
	if t.SignedAmount < 0 {
		return -t.SignedAmount
	}
	return t.SignedAmount
}

// CashDelta returns the change in cash this transaction causes:
// -(signed_amount * price) - commission. Buying (positive signed_amount)
// reduces cash; selling (negative signed_amount) increases it.
func (t Transaction) CashDelta() float64 {
	return -(t.SignedAmount * t.Price) - t.Commission
}
