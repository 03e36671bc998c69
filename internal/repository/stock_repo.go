package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"storefront/internal/model"
)

// ErrStockNotFound is returned when a stock row does not exist.
var ErrStockNotFound = errors.New("stock not found")

// StockRepository reads and writes the stock ledger. There is no row versioning:
// a read followed by SetQuantity is not isolated from concurrent writers.
type StockRepository interface {
	// GetWithProduct reads one stock row together with its product.
	GetWithProduct(ctx context.Context, id uint64) (*model.Stock, error)

	// SetQuantity overwrites the quantity of a stock row.
	SetQuantity(ctx context.Context, id uint64, quantity int) error

	// Restock adds quantity back to a stock row in a single statement.
	Restock(ctx context.Context, id uint64, quantity int) error
}

type stockRepository struct {
	db *gorm.DB
}

// NewStockRepository creates a stock repository
func NewStockRepository(db *gorm.DB) StockRepository {
	return &stockRepository{db: db}
}

func (r *stockRepository) GetWithProduct(ctx context.Context, id uint64) (*model.Stock, error) {
	var stock model.Stock
	err := r.db.WithContext(ctx).
		Preload("Product").
		Where("id = ?", id).
		First(&stock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStockNotFound
		}
		return nil, err
	}
	return &stock, nil
}

func (r *stockRepository) SetQuantity(ctx context.Context, id uint64, quantity int) error {
	result := r.db.WithContext(ctx).
		Model(&model.Stock{}).
		Where("id = ?", id).
		Update("quantity", quantity)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStockNotFound
	}
	return nil
}

func (r *stockRepository) Restock(ctx context.Context, id uint64, quantity int) error {
	result := r.db.WithContext(ctx).
		Model(&model.Stock{}).
		Where("id = ?", id).
		Update("quantity", gorm.Expr("quantity + ?", quantity))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStockNotFound
	}
	return nil
}
