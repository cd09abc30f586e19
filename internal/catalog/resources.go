package catalog

import (
	"cmp"
	"encoding/json"
	"slices"

	"github.com/shopspring/decimal"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Customers are referenced by quotes and work orders.
var Customers = &Resource[models.Customer]{
	Entity:       "customer",
	ReferencedBy: "quotes or work orders",
	Search:       []string{"name", "customer_code", "contact_name", "contact_email", "city"},
	Sort:         map[string]string{"name": "name", "code": "customer_code", "city": "city", "created": "created_at"},
	Order:        []string{"name"},
	Writable: []string{"customer_code", "name", "website", "contact_name", "contact_phone", "contact_email",
		"address_line1", "address_line2", "city", "state", "postal_code", "country"},
	Owner: func(c *models.Customer) *string { return &c.CompanyID },
	Check: func(c *models.Customer) error {
		if c.Country == "" {
			c.Country = "USA"
		}
		return required("customer", field{"code", c.CustomerCode}, field{"name", c.Name})
	},
}

// Parts are generic or belong to one customer; a part number is unique per
// customer. Routings referencing a deleted part lose the reference.
var Parts = &Resource[models.Part]{
	Entity:   "part",
	Search:   []string{"part_number", "description", "notes"},
	Sort:     map[string]string{"number": "part_number", "created": "created_at"},
	Order:    []string{"number"},
	Writable: []string{"part_number", "customer_id", "description", "material_cost", "notes", "pricing"},
	Owner:    func(p *models.Part) *string { return &p.CompanyID },
	Encode: func(fields map[string]any) error {
		if v, ok := fields["customer_id"]; ok && v == "" {
			fields["customer_id"] = nil
		}
		v, ok := fields["pricing"]
		if !ok {
			return nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return db.Validation("invalid pricing: %v", err)
		}
		norm, err := NormalizePricing(raw)
		if err != nil {
			return err
		}
		fields["pricing"] = norm
		return nil
	},
	Check: func(p *models.Part) error {
		if err := required("part", field{"number", p.PartNumber}); err != nil {
			return err
		}
		if p.MaterialCost.Valid && p.MaterialCost.Decimal.IsNegative() {
			return db.Validation("material cost must be zero or greater")
		}
		if p.CustomerID != nil && *p.CustomerID == "" {
			p.CustomerID = nil
		}
		norm, err := NormalizePricing(p.Pricing)
		if err != nil {
			return err
		}
		p.Pricing = norm
		return nil
	},
	Links: func(gdb *gorm.DB, companyID string, p *models.Part) error {
		if p.CustomerID == nil {
			return nil
		}
		return owned(gdb, companyID, &models.Customer{}, "customer", *p.CustomerID)
	},
}

// NormalizePricing validates price tiers, rounds prices to cents and sorts
// the tiers by quantity. Empty input is an empty tier list.
func NormalizePricing(raw datatypes.JSON) (datatypes.JSON, error) {
	var tiers []models.PriceTier
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &tiers); err != nil {
			return nil, db.Validation("pricing must be a list of {qty, price} tiers")
		}
	}
	for i, t := range tiers {
		if t.Qty <= 0 {
			return nil, db.Validation("pricing tier %d: quantity must be greater than zero", i+1)
		}
		if t.Price < 0 {
			return nil, db.Validation("pricing tier %d: price must be zero or greater", i+1)
		}
		tiers[i].Price = decimal.NewFromFloat(t.Price).Round(2).InexactFloat64()
	}
	slices.SortStableFunc(tiers, func(a, b models.PriceTier) int { return cmp.Compare(a.Qty, b.Qty) })
	if tiers == nil {
		tiers = []models.PriceTier{}
	}
	out, err := json.Marshal(tiers)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}

// Inventory is stocked material.
var Inventory = &Resource[models.InventoryItem]{
	Entity:   "inventory item",
	Search:   []string{"name", "sku", "description"},
	Sort:     map[string]string{"name": "name", "sku": "sku", "quantity": "quantity", "created": "created_at"},
	Order:    []string{"name"},
	Writable: []string{"name", "sku", "description", "primary_unit", "quantity", "cost_per_unit"},
	Owner:    func(i *models.InventoryItem) *string { return &i.CompanyID },
	Check: func(i *models.InventoryItem) error {
		if err := required("inventory item", field{"name", i.Name}, field{"primary unit", i.PrimaryUnit}); err != nil {
			return err
		}
		if i.Quantity.IsNegative() {
			return db.Validation("quantity must be zero or greater")
		}
		if i.CostPerUnit.Valid && i.CostPerUnit.Decimal.IsNegative() {
			return db.Validation("cost per unit must be zero or greater")
		}
		return nil
	},
}

// ResourceGroups own operation types; deleting one ungroups its members.
var ResourceGroups = &Resource[models.ResourceGroup]{
	Entity:   "resource group",
	Search:   []string{"name"},
	Sort:     map[string]string{"order": "display_order", "name": "name"},
	Order:    []string{"order"},
	Writable: []string{"name", "display_order"},
	Owner:    func(g *models.ResourceGroup) *string { return &g.CompanyID },
	Check: func(g *models.ResourceGroup) error {
		return required("resource group", field{"name", g.Name})
	},
}

// OperationTypes are referenced by routing steps.
var OperationTypes = &Resource[models.OperationType]{
	Entity:       "operation type",
	ReferencedBy: "routing steps",
	Search:       []string{"name", "code", "description"},
	Sort:         map[string]string{"name": "name", "code": "code", "labor_rate": "labor_rate", "created": "created_at"},
	Order:        []string{"name"},
	Writable:     []string{"name", "code", "resource_group_id", "labor_rate", "description"},
	Owner:        func(o *models.OperationType) *string { return &o.CompanyID },
	Check: func(o *models.OperationType) error {
		if err := required("operation type", field{"name", o.Name}); err != nil {
			return err
		}
		if o.LaborRate.Valid && o.LaborRate.Decimal.IsNegative() {
			return db.Validation("labor rate must be zero or greater")
		}
		return nil
	},
	Links: func(gdb *gorm.DB, companyID string, o *models.OperationType) error {
		if o.ResourceGroupID == nil {
			return nil
		}
		return owned(gdb, companyID, &models.ResourceGroup{}, "resource group", *o.ResourceGroupID)
	},
}

// Quotes belong to a customer.
var Quotes = &Resource[models.Quote]{
	Entity:   "quote",
	Search:   []string{"quote_number", "status", "notes"},
	Sort:     map[string]string{"number": "quote_number", "status": "status", "created": "created_at"},
	Order:    []string{"created"},
	Writable: []string{"quote_number", "customer_id", "status", "quantity", "unit_price", "notes"},
	Owner:    func(q *models.Quote) *string { return &q.CompanyID },
	Check: func(q *models.Quote) error {
		if err := required("quote", field{"number", q.QuoteNumber}, field{"customer", q.CustomerID}); err != nil {
			return err
		}
		if q.Quantity < 0 {
			return db.Validation("quantity must be zero or greater")
		}
		if q.UnitPrice.IsNegative() {
			return db.Validation("unit price must be zero or greater")
		}
		return nil
	},
	Links: func(gdb *gorm.DB, companyID string, q *models.Quote) error {
		return owned(gdb, companyID, &models.Customer{}, "customer", q.CustomerID)
	},
}

// WorkOrders may follow a routing for a customer.
var WorkOrders = &Resource[models.WorkOrder]{
	Entity:   "work order",
	Search:   []string{"work_order_number", "status"},
	Sort:     map[string]string{"number": "work_order_number", "status": "status", "due": "due_date", "created": "created_at"},
	Order:    []string{"created"},
	Writable: []string{"work_order_number", "routing_id", "customer_id", "quantity", "status", "due_date"},
	Owner:    func(w *models.WorkOrder) *string { return &w.CompanyID },
	Check: func(w *models.WorkOrder) error {
		if err := required("work order", field{"number", w.WorkOrderNumber}); err != nil {
			return err
		}
		if w.Quantity < 0 {
			return db.Validation("quantity must be zero or greater")
		}
		return nil
	},
	Links: func(gdb *gorm.DB, companyID string, w *models.WorkOrder) error {
		if w.RoutingID != nil {
			if err := owned(gdb, companyID, &models.Routing{}, "routing", *w.RoutingID); err != nil {
				return err
			}
		}
		if w.CustomerID != nil {
			return owned(gdb, companyID, &models.Customer{}, "customer", *w.CustomerID)
		}
		return nil
	},
}

// Personnel are shop-floor staff records.
var Personnel = &Resource[models.Personnel]{
	Entity:   "personnel record",
	Search:   []string{"name", "title", "email", "shift"},
	Sort:     map[string]string{"name": "name", "title": "title", "shift": "shift"},
	Order:    []string{"name"},
	Writable: []string{"name", "title", "email", "phone", "shift", "active"},
	Owner:    func(p *models.Personnel) *string { return &p.CompanyID },
	Check: func(p *models.Personnel) error {
		return required("personnel record", field{"name", p.Name})
	},
}
