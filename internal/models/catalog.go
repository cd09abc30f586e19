package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Customer is a company's customer record.
type Customer struct {
	Model
	CompanyID    string `gorm:"size:36;not null;index;uniqueIndex:idx_customers_company_code" json:"company_id"`
	CustomerCode string `gorm:"size:64;not null;uniqueIndex:idx_customers_company_code" json:"customer_code"`
	Name         string `gorm:"size:255;not null" json:"name"`
	Website      string `gorm:"size:255" json:"website"`
	ContactName  string `gorm:"size:128" json:"contact_name"`
	ContactPhone string `gorm:"size:64" json:"contact_phone"`
	ContactEmail string `gorm:"size:255" json:"contact_email"`
	AddressLine1 string `gorm:"size:255" json:"address_line1"`
	AddressLine2 string `gorm:"size:255" json:"address_line2"`
	City         string `gorm:"size:128" json:"city"`
	State        string `gorm:"size:64" json:"state"`
	PostalCode   string `gorm:"size:32" json:"postal_code"`
	Country      string `gorm:"size:64;default:USA" json:"country"`
}

// PriceTier is the unit price of a part from Qty units upward.
type PriceTier struct {
	Qty   int     `json:"qty"`
	Price float64 `json:"price"`
}

// Part is a manufactured part, specific to one customer or generic when
// CustomerID is nil. Pricing holds []PriceTier sorted by Qty.
type Part struct {
	Model
	CompanyID    string              `gorm:"size:36;not null;index;uniqueIndex:idx_parts_company_customer_number" json:"company_id"`
	CustomerID   *string             `gorm:"size:36;index;uniqueIndex:idx_parts_company_customer_number" json:"customer_id"`
	PartNumber   string              `gorm:"size:64;not null;uniqueIndex:idx_parts_company_customer_number" json:"part_number"`
	Description  string              `gorm:"type:text" json:"description"`
	MaterialCost decimal.NullDecimal `gorm:"type:decimal(14,2)" json:"material_cost"`
	Notes        string              `gorm:"type:text" json:"notes"`
	Pricing      datatypes.JSON      `json:"pricing"`

	Customer *Customer `gorm:"foreignKey:CustomerID;constraint:OnDelete:RESTRICT" json:"-"`
}

// InventoryItem is a stocked material or part.
type InventoryItem struct {
	Model
	CompanyID   string              `gorm:"size:36;not null;index" json:"company_id"`
	Name        string              `gorm:"size:255;not null" json:"name"`
	SKU         string              `gorm:"size:64;index" json:"sku"`
	Description string              `gorm:"type:text" json:"description"`
	PrimaryUnit string              `gorm:"size:32;not null" json:"primary_unit"`
	Quantity    decimal.Decimal     `gorm:"type:decimal(14,4);not null;default:0" json:"quantity"`
	CostPerUnit decimal.NullDecimal `gorm:"type:decimal(14,2)" json:"cost_per_unit"`
	Metadata    datatypes.JSON      `json:"metadata,omitempty"`
}

// Quote is a priced offer to a customer.
type Quote struct {
	Model
	CompanyID   string          `gorm:"size:36;not null;index;uniqueIndex:idx_quotes_company_number" json:"company_id"`
	QuoteNumber string          `gorm:"size:64;not null;uniqueIndex:idx_quotes_company_number" json:"quote_number"`
	CustomerID  string          `gorm:"size:36;not null;index" json:"customer_id"`
	Status      string          `gorm:"size:16;default:draft" json:"status"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"unit_price"`
	Notes       string          `gorm:"type:text" json:"notes"`

	Customer *Customer `gorm:"foreignKey:CustomerID;constraint:OnDelete:RESTRICT" json:"-"`
}

// WorkOrder schedules production of a part along a routing.
type WorkOrder struct {
	Model
	CompanyID       string     `gorm:"size:36;not null;index;uniqueIndex:idx_work_orders_company_number" json:"company_id"`
	WorkOrderNumber string     `gorm:"size:64;not null;uniqueIndex:idx_work_orders_company_number" json:"work_order_number"`
	RoutingID       *string    `gorm:"size:36;index" json:"routing_id"`
	CustomerID      *string    `gorm:"size:36;index" json:"customer_id"`
	Quantity        int        `json:"quantity"`
	Status          string     `gorm:"size:16;default:open" json:"status"`
	DueDate         *time.Time `json:"due_date"`

	Routing  *Routing  `gorm:"foreignKey:RoutingID;constraint:OnDelete:RESTRICT" json:"-"`
	Customer *Customer `gorm:"foreignKey:CustomerID;constraint:OnDelete:RESTRICT" json:"-"`
}

// Personnel is a shop-floor staff record.
type Personnel struct {
	Model
	CompanyID string `gorm:"size:36;not null;index" json:"company_id"`
	Name      string `gorm:"size:128;not null" json:"name"`
	Title     string `gorm:"size:128" json:"title"`
	Email     string `gorm:"size:255" json:"email"`
	Phone     string `gorm:"size:64" json:"phone"`
	Shift     string `gorm:"size:32" json:"shift"`
	Active    bool   `json:"active"`
}

// TableName keeps the uncountable noun.
func (Personnel) TableName() string { return "personnel" }
