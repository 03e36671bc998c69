package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase is the header row of a committed purchase. It is never updated; a failed
// purchase saga deletes it together with its lines.
type Purchase struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string          `gorm:"type:varchar(64);not null;index:idx_purchases_user_created,priority:1" json:"user_id"`
	Total     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	CreatedAt time.Time       `gorm:"not null;index:idx_purchases_user_created,priority:2" json:"created_at"`

	Lines []PurchaseLine `gorm:"foreignKey:PurchaseID" json:"lines,omitempty"`
}

// TableName set name
func (Purchase) TableName() string {
	return "purchases"
}

// PurchaseLine is one stock variant bought in a purchase.
type PurchaseLine struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PurchaseID uint64          `gorm:"not null;index" json:"purchase_id"`
	StockID    uint64          `gorm:"not null;index" json:"stock_id"`
	Quantity   int             `gorm:"not null" json:"quantity"`
	Subtotal   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`

	Stock *Stock `gorm:"foreignKey:StockID" json:"stock,omitempty"`
}

// TableName set name
func (PurchaseLine) TableName() string {
	return "purchase_lines"
}

// PurchaseItem is one requested line of a purchase as submitted by the caller.
type PurchaseItem struct {
	StockID  uint64          `json:"stock_id" binding:"required"`
	Quantity int             `json:"quantity" binding:"required"`
	Price    decimal.Decimal `json:"price"`
}

// Subtotal is price times quantity. The caller-supplied price is trusted.
func (i PurchaseItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
