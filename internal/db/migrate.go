package db

import (
	"errors"
	"fmt"

	"github.com/zulandar/jigged/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model in dependency order for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Company{},
		&models.Customer{},
		&models.Part{},
		&models.InventoryItem{},
		&models.ResourceGroup{},
		&models.OperationType{},
		&models.Routing{},
		&models.RoutingNode{},
		&models.RoutingEdge{},
		&models.Quote{},
		&models.WorkOrder{},
		&models.Personnel{},
		&models.User{},
		&models.Membership{},
		&models.Operator{},
		&models.AIConfig{},
		&models.Attachment{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// OpenMemory returns a migrated in-memory SQLite database.
func OpenMemory() (*gorm.DB, error) {
	db, err := OpenSQLite(":memory:")
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// SeedCompany upserts a company by name and returns the stored row.
func SeedCompany(db *gorm.DB, name string) (*models.Company, error) {
	if name == "" {
		return nil, Validation("company name is required")
	}
	company := models.Company{Name: name}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&company)
	if result.Error != nil {
		return nil, Wrap("seed company", "company", result.Error)
	}

	var stored models.Company
	if err := db.Where("name = ?", name).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("company", name)
		}
		return nil, Wrap("seed company", "company", err)
	}
	return &stored, nil
}
