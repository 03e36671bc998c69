package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockRepository_GetWithProduct(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewStockRepository(db)

	mock.ExpectQuery("SELECT \\* FROM `stocks` WHERE id = \\? ORDER BY `stocks`.`id` LIMIT \\?").
		WithArgs(uint64(7), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "color_id", "size", "quantity"}).
			AddRow(7, 100, 3, "M", 10))
	mock.ExpectQuery("SELECT \\* FROM `products` WHERE `products`.`id` = \\?").
		WithArgs(uint64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(100, "Linen Shirt"))

	stock, err := repo.GetWithProduct(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), stock.ID)
	assert.Equal(t, uint64(100), stock.ProductID)
	assert.Equal(t, uint64(3), stock.ColorID)
	assert.Equal(t, "M", stock.Size)
	assert.Equal(t, 10, stock.Quantity)
	assert.Equal(t, "Linen Shirt", stock.Title())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepository_GetWithProductNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewStockRepository(db)

	mock.ExpectQuery("SELECT \\* FROM `stocks`").
		WithArgs(uint64(404), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "color_id", "size", "quantity"}))

	stock, err := repo.GetWithProduct(context.Background(), 404)
	assert.Nil(t, stock)
	assert.ErrorIs(t, err, ErrStockNotFound)
}

func TestStockRepository_SetQuantity(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewStockRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `stocks` SET `quantity`=\\? WHERE id = \\?").
		WithArgs(-1, uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// negative quantities are written as is
	require.NoError(t, repo.SetQuantity(context.Background(), 7, -1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepository_SetQuantityErrors(t *testing.T) {
	t.Run("NoRowsAffected", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewStockRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `stocks`").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		assert.ErrorIs(t, repo.SetQuantity(context.Background(), 7, 3), ErrStockNotFound)
	})

	t.Run("DatabaseError", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewStockRepository(db)
		dbErr := errors.New("lock wait timeout")

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `stocks`").WillReturnError(dbErr)
		mock.ExpectRollback()

		assert.ErrorIs(t, repo.SetQuantity(context.Background(), 7, 3), dbErr)
	})
}

func TestStockRepository_Restock(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewStockRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `stocks` SET `quantity`=quantity \\+ \\? WHERE id = \\?").
		WithArgs(2, uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Restock(context.Background(), 7, 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}
