package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storefront/internal/model"
)

// PurchaseRepository persists purchase headers and lines. Each method is its own
// statement; callers that need all-or-nothing semantics compensate themselves.
type PurchaseRepository interface {
	// Create inserts the header only and fills in its ID.
	Create(ctx context.Context, purchase *model.Purchase) error

	// CreateLines inserts all lines in one batch statement.
	CreateLines(ctx context.Context, lines []model.PurchaseLine) error

	// DeleteLines removes every line of a purchase.
	DeleteLines(ctx context.Context, purchaseID uint64) error

	// Delete removes a purchase header.
	Delete(ctx context.Context, id uint64) error

	// ListByUser returns a user's purchases newest first, with lines, stock, product and images.
	ListByUser(ctx context.Context, userID string) ([]*model.Purchase, error)
}

type purchaseRepository struct {
	db *gorm.DB
}

// NewPurchaseRepository creates a purchase repository
func NewPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &purchaseRepository{db: db}
}

func (r *purchaseRepository) Create(ctx context.Context, purchase *model.Purchase) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(purchase).Error
}

func (r *purchaseRepository) CreateLines(ctx context.Context, lines []model.PurchaseLine) error {
	if len(lines) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(&lines).Error
}

func (r *purchaseRepository) DeleteLines(ctx context.Context, purchaseID uint64) error {
	return r.db.WithContext(ctx).
		Where("purchase_id = ?", purchaseID).
		Delete(&model.PurchaseLine{}).Error
}

func (r *purchaseRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Delete(&model.Purchase{}, id).Error
}

func (r *purchaseRepository) ListByUser(ctx context.Context, userID string) ([]*model.Purchase, error) {
	var purchases []*model.Purchase
	err := r.db.WithContext(ctx).
		Preload("Lines.Stock.Product.Images").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&purchases).Error
	if err != nil {
		return nil, err
	}
	return purchases, nil
}
