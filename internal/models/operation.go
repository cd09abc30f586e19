package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ResourceGroup groups operation types (e.g. a machine cell).
type ResourceGroup struct {
	Model
	CompanyID    string `gorm:"size:36;not null;index;uniqueIndex:idx_resource_groups_company_name" json:"company_id"`
	Name         string `gorm:"size:128;not null;uniqueIndex:idx_resource_groups_company_name" json:"name"`
	DisplayOrder int    `gorm:"default:0" json:"display_order"`
}

// OperationType is a reusable kind of manufacturing step.
type OperationType struct {
	Model
	CompanyID       string              `gorm:"size:36;not null;index;uniqueIndex:idx_operation_types_company_name" json:"company_id"`
	Name            string              `gorm:"size:128;not null;uniqueIndex:idx_operation_types_company_name" json:"name"`
	Code            *string             `gorm:"size:32" json:"code"`
	ResourceGroupID *string             `gorm:"size:36;index" json:"resource_group_id"`
	LaborRate       decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"labor_rate"`
	Description     string              `gorm:"type:text" json:"description"`
	Metadata        datatypes.JSON      `json:"metadata,omitempty"`

	ResourceGroup *ResourceGroup `gorm:"foreignKey:ResourceGroupID;constraint:OnDelete:SET NULL" json:"resource_group,omitempty"`
}
