package models

import (
	"fmt"
	"time"
)

// TrnWidth is the number of digits in a formatted TRN.
const TrnWidth = 7

// IdentifierRange is a contiguous block of registry numbers.
type IdentifierRange struct {
	ID          string    `db:"id" json:"id"`
	FromID      int64     `db:"from_id" json:"fromId"`
	ToID        int64     `db:"to_id" json:"toId"`
	NextID      int64     `db:"next_id" json:"nextId"`
	IsExhausted bool      `db:"is_exhausted" json:"isExhausted"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Remaining returns how many numbers are still available in the range.
func (r IdentifierRange) Remaining() int64 {
	if r.IsExhausted || r.NextID > r.ToID {
		return 0
	}
	return r.ToID - r.NextID + 1
}

// FormatTrn renders a registry number in its canonical zero-padded form.
func FormatTrn(value int64) string {
	return fmt.Sprintf("%0*d", TrnWidth, value)
}

// TrnToken is a single-use credential asserting that a TRN belongs to whoever redeems it.
type TrnToken struct {
	ID            string     `db:"id" json:"id"`
	Digest        string     `db:"digest" json:"-"`
	Trn           string     `db:"trn" json:"trn"`
	EmailAddress  *string    `db:"email_address" json:"emailAddress,omitempty"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expiresAt"`
	ConsumedAt    *time.Time `db:"consumed_at" json:"consumedAt,omitempty"`
	ConsumedByKey *string    `db:"consumed_by_key" json:"consumedByKey,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
}

// Redeemable reports whether the token is unconsumed and unexpired at now.
func (t *TrnToken) Redeemable(now time.Time) bool {
	return t != nil && t.ConsumedAt == nil && now.Before(t.ExpiresAt)
}
