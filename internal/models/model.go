// Package models defines the GORM models persisted by Jigged. Every tenant
// table carries a CompanyID and is queried through db.ForCompany.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Model is embedded by every table keyed by a UUID string.
type Model struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not choose one.
func (m *Model) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Company is a tenant.
type Company struct {
	Model
	Name string `gorm:"size:128;not null;uniqueIndex" json:"name"`
}
