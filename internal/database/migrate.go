package database

import (
	"fmt"

	"gorm.io/gorm"

	"storefront/internal/model"
	"storefront/pkg/log"
)

// Models lists every table the service touches. The catalog tables are owned elsewhere
// and migrated here only for local development.
func Models() []interface{} {
	return []interface{}{
		&model.Product{},
		&model.ProductImage{},
		&model.Stock{},
		&model.Purchase{},
		&model.PurchaseLine{},
	}
}

// AutoMigrate auto migrate database table schema
func AutoMigrate(db *gorm.DB) error {
	log.Info("Starting database migration...")

	for _, m := range Models() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", m, err)
		}
		log.Debugf("Migrated model: %T", m)
	}

	log.Info("Database migration completed successfully")
	return nil
}

// CheckTables returns the models whose table is missing, logging each one.
func CheckTables(db *gorm.DB) []string {
	var missing []string
	for _, m := range Models() {
		if !db.Migrator().HasTable(m) {
			name := fmt.Sprintf("%T", m)
			log.Warnf("Table not found for model %s", name)
			missing = append(missing, name)
		}
	}
	return missing
}
