package importer

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const insertBatchSize = 100

// Operations imports operation types, optionally creating their resource
// groups.
var Operations = register(&Module{
	Name:       "operations",
	Noun:       "operations",
	Unique:     []string{"name"},
	GroupField: "resource_group",
	DomainHints: []string{"resource", "operation", "machine", "work center", "labor", "rate", "hourly",
		"cnc", "lathe", "mill", "edm", "grinding", "assembly", "inspection"},
	Fields: []Field{
		{Name: "name", Type: String, Required: true,
			Description: "Operation name (e.g. 'HURCO Mill', 'Mazak Lathe')",
			Patterns: patterns(`^(name|resource_?name|operation_?name)$`,
				`^(resource|operation|work_?center|machine)$`)},
		{Name: "code", Type: String,
			Description: "Short code for display (e.g. 'HRC-M1')",
			Patterns: patterns(`^(code|resource_?(code|id)|operation_?(code|id))$`,
				`^(machine_?(code|id)|work_?center_?(code|id))$`,
				`^(short_?code|abbreviation|abbrev)$`)},
		{Name: "labor_rate", Type: Number, InvalidType: "invalid_rate",
			Description: "Hourly labor rate in dollars (e.g. 135.00)",
			Patterns: patterns(`^(labor_?rate|rate|hourly_?rate)$`,
				`^(cost_?per_?hour|hour_?rate|\$/hr)$`,
				`^(shop_?rate|machine_?rate|operation_?rate)$`)},
		{Name: "resource_group", Type: String,
			Description: "Group or category name (e.g. 'CNC', 'EDM')",
			Patterns: patterns(`^(resource_?group|group|category|type)$`,
				`^(department|section|area|work_?group)$`,
				`^(operation_?type|machine_?type|work_?type)$`)},
		{Name: "description", Type: String,
			Description: "Additional notes or description",
			Patterns: patterns(`^(description|desc|notes?|comments?|memo|remarks?)$`,
				`^(additional_?info|details?)$`)},
		{Name: "legacy_id", Type: String,
			Description: "ID from a previous system, kept in metadata",
			Patterns: patterns(`^(legacy_?id|old_?id|previous_?id)$`,
				`^(external_?id|source_?id|orig_?id)$`)},
	},
	existing: func(ctx context.Context, gdb *gorm.DB, companyID string) (Existing, error) {
		out := Existing{"name": {}}
		err := db.ReadAll(ctx, gdb.Model(&models.OperationType{}).Scopes(db.ForCompany(companyID)).Select("id", "name"),
			db.ReadPageSize, func(batch []models.OperationType) error {
				for _, o := range batch {
					out["name"][strings.ToLower(o.Name)] = o.ID
				}
				return nil
			})
		return out, err
	},
	insert: func(tx *gorm.DB, companyID string, records []Record, groups map[string]string) (int, error) {
		rows := make([]models.OperationType, 0, len(records))
		for _, r := range records {
			op := models.OperationType{CompanyID: companyID, Name: r["name"], Description: r["description"]}
			if v, ok := r["code"]; ok {
				op.Code = &v
			}
			if v, ok := r["labor_rate"]; ok {
				op.LaborRate = decimal.NewNullDecimal(decimal.RequireFromString(v))
			}
			if id, ok := groups[strings.ToLower(r["resource_group"])]; ok {
				op.ResourceGroupID = &id
			}
			meta := map[string]string{}
			if v, ok := r["legacy_id"]; ok {
				meta["legacy_id"] = v
			}
			raw, _ := json.Marshal(meta)
			op.Metadata = datatypes.JSON(raw)
			rows = append(rows, op)
		}
		if len(rows) == 0 {
			return 0, nil
		}
		res := tx.CreateInBatches(&rows, insertBatchSize)
		return int(res.RowsAffected), res.Error
	},
})

// Inventory imports stocked items; SKUs are unique.
var Inventory = register(&Module{
	Name:        "inventory",
	Noun:        "inventory items",
	Unique:      []string{"sku"},
	DomainHints: []string{"item", "part", "material", "stock", "inventory", "unit", "qty", "quantity", "cost", "price"},
	Fields: []Field{
		{Name: "name", Type: String, Required: true,
			Description: "Item name",
			Patterns:    patterns(`^(name|item_?name|part_?name|material|item)$`)},
		{Name: "primary_unit", Type: String, Required: true,
			Description: "Unit of measure (e.g. 'ea', 'ft', 'lb')",
			Patterns:    patterns(`^(primary_?unit|unit|units|uom|unit_?of_?measure)$`)},
		{Name: "sku", Type: String,
			Description: "Stock keeping unit",
			Patterns:    patterns(`^(sku|item_?(code|number|no)|part_?(number|no|#))$`)},
		{Name: "description", Type: String,
			Description: "Item description",
			Patterns:    patterns(`^(description|desc|notes?|details?)$`)},
		{Name: "quantity", Type: Number, InvalidType: "invalid_quantity",
			Description: "Quantity on hand",
			Patterns:    patterns(`^(quantity|qty|on_?hand|qty_?on_?hand|stock|count)$`)},
		{Name: "cost_per_unit", Type: Number, InvalidType: "invalid_cost",
			Description: "Cost per unit in dollars",
			Patterns:    patterns(`^(cost_?per_?unit|unit_?cost|cost|price|unit_?price)$`)},
	},
	existing: func(ctx context.Context, gdb *gorm.DB, companyID string) (Existing, error) {
		out := Existing{"sku": {}}
		err := db.ReadAll(ctx, gdb.Model(&models.InventoryItem{}).Scopes(db.ForCompany(companyID)).
			Where("sku <> ''").Select("id", "sku"),
			db.ReadPageSize, func(batch []models.InventoryItem) error {
				for _, i := range batch {
					out["sku"][strings.ToLower(i.SKU)] = i.ID
				}
				return nil
			})
		return out, err
	},
	insert: func(tx *gorm.DB, companyID string, records []Record, _ map[string]string) (int, error) {
		rows := make([]models.InventoryItem, 0, len(records))
		for _, r := range records {
			item := models.InventoryItem{
				CompanyID:   companyID,
				Name:        r["name"],
				PrimaryUnit: r["primary_unit"],
				SKU:         r["sku"],
				Description: r["description"],
			}
			if v, ok := r["quantity"]; ok {
				item.Quantity = decimal.RequireFromString(v)
			}
			if v, ok := r["cost_per_unit"]; ok {
				item.CostPerUnit = decimal.NewNullDecimal(decimal.RequireFromString(v))
			}
			rows = append(rows, item)
		}
		if len(rows) == 0 {
			return 0, nil
		}
		res := tx.CreateInBatches(&rows, insertBatchSize)
		return int(res.RowsAffected), res.Error
	},
})

// Customers imports customer records; codes and names are unique.
var Customers = register(&Module{
	Name:   "customers",
	Noun:   "customers",
	Unique: []string{"customer_code", "name"},
	DomainHints: []string{"customer", "client", "vendor", "company", "business",
		"contact", "phone", "email", "address", "city", "state", "zip"},
	Fields: []Field{
		{Name: "customer_code", Type: String, Required: true,
			Description: "Unique customer identifier code",
			Patterns: patterns(`^(customer_?(code|id|number|num|#)?|cust_?(code|id))$`,
				`^(client_?(code|id)|account_?(code|id|number|num))$`)},
		{Name: "name", Type: String, Required: true,
			Description: "Company or customer name",
			Patterns: patterns(`^(name|company_?name|customer_?name|business_?name)$`,
				`^(client|vendor|account)_?name$`,
				`^(full_?name|legal_?name|dba)$`)},
		{Name: "website", Type: String, Description: "Company website URL",
			Patterns: patterns(`^(website|web_?site|url|web_?address|homepage|www)$`)},
		{Name: "contact_name", Type: String, Description: "Primary contact person",
			Patterns: patterns(`^(contact_?name|contact_?person|primary_?contact|contact|rep|representative)$`)},
		{Name: "contact_phone", Type: String, Description: "Primary contact phone number",
			Patterns: patterns(`^(contact_?phone|phone_?number|phone|telephone|tel)$`,
				`^(primary|main|work|office)_?phone$`, `^(mobile|cell|cell_?phone)$`)},
		{Name: "contact_email", Type: String, Description: "Primary contact email address",
			Patterns: patterns(`^(contact_?email|email_?address|email|e_?mail)$`,
				`^(primary|main|work)_?email$`)},
		{Name: "address_line1", Type: String, Description: "Street address line 1",
			Patterns: patterns(`^(address_?(line)?_?1?|street_?address|street)$`,
				`^(addr|mailing_?address|shipping_?address)$`)},
		{Name: "address_line2", Type: String, Description: "Street address line 2 (suite, unit)",
			Patterns: patterns(`^(address_?(line)?_?2|street_?address_?2)$`,
				`^(suite|unit|apt|apartment|floor|building)$`)},
		{Name: "city", Type: String, Description: "City",
			Patterns: patterns(`^(city|town|municipality|locality)$`)},
		{Name: "state", Type: String, Description: "State or province",
			Patterns: patterns(`^(state|province|region|st)$`, `^(state_?province|state_?code)$`)},
		{Name: "postal_code", Type: String, Description: "ZIP or postal code",
			Patterns: patterns(`^(postal_?code|post_?code|zip_?code|zip|postcode)$`)},
		{Name: "country", Type: String, Description: "Country (defaults to USA)",
			Patterns: patterns(`^(country|nation|country_?code)$`)},
	},
	existing: func(ctx context.Context, gdb *gorm.DB, companyID string) (Existing, error) {
		out := Existing{"customer_code": {}, "name": {}}
		err := db.ReadAll(ctx, gdb.Model(&models.Customer{}).Scopes(db.ForCompany(companyID)).
			Select("id", "customer_code", "name"),
			db.ReadPageSize, func(batch []models.Customer) error {
				for _, c := range batch {
					out["customer_code"][strings.ToLower(c.CustomerCode)] = c.ID
					out["name"][strings.ToLower(c.Name)] = c.ID
				}
				return nil
			})
		return out, err
	},
	insert: func(tx *gorm.DB, companyID string, records []Record, _ map[string]string) (int, error) {
		rows := make([]models.Customer, 0, len(records))
		for _, r := range records {
			c := models.Customer{
				CompanyID:    companyID,
				CustomerCode: r["customer_code"],
				Name:         r["name"],
				Website:      r["website"],
				ContactName:  r["contact_name"],
				ContactPhone: r["contact_phone"],
				ContactEmail: r["contact_email"],
				AddressLine1: r["address_line1"],
				AddressLine2: r["address_line2"],
				City:         r["city"],
				State:        r["state"],
				PostalCode:   r["postal_code"],
				Country:      r["country"],
			}
			if c.Country == "" {
				c.Country = "USA"
			}
			rows = append(rows, c)
		}
		if len(rows) == 0 {
			return 0, nil
		}
		res := tx.CreateInBatches(&rows, insertBatchSize)
		return int(res.RowsAffected), res.Error
	},
})

// Parts imports parts with tiered pricing. Part numbers are unique per
// customer; generic parts share the empty customer.
var Parts = register(&Module{
	Name:           "parts",
	Noun:           "parts",
	Unique:         []string{"part_number"},
	CustomerScoped: true,
	Pricing:        true,
	DomainHints: []string{"part", "product", "item", "component", "assembly", "sku", "material",
		"cost", "price", "qty", "quantity", "customer", "client", "description", "note"},
	Fields: []Field{
		{Name: "part_number", Type: String, Required: true,
			Description: "Part identifier, unique per customer or among generic parts",
			Patterns: patterns(`^part_?(number|num|no|#|id|code)?$`,
				`^(pn|sku|item_?(number|num|no|code)?)$`,
				`^product_?(code|id|number)$`,
				`^(component|assembly)_?(number|id|code)$`)},
		{Name: "customer_code", Type: String,
			Description: "Code of the customer that owns the part",
			Patterns: patterns(`^(customer_?(code|id|number|#)?|cust_?(code|id))$`,
				`^(client|account)_?(code|id)$`)},
		{Name: "description", Type: String,
			Description: "Part description or name",
			Patterns: patterns(`^(description|desc|part_?desc(ription)?)$`,
				`^(name|title|label|part_?name)$`,
				`^(product|item|part)_?(name|description)$`)},
		{Name: "material_cost", Type: Number, InvalidType: "invalid_material_cost",
			Description: "Material cost per unit in dollars",
			Patterns: patterns(`^(material_?cost|mat_?cost|raw_?cost)$`,
				`^(unit_?cost|base_?cost|cost_?per_?unit)$`,
				`^(cost|material|raw_?material_?cost)$`)},
		{Name: "notes", Type: String,
			Description: "Internal notes about the part",
			Patterns:    patterns(`^(notes?|comments?|remarks?|memo|internal_?notes?)$`)},
	},
	existing: func(ctx context.Context, gdb *gorm.DB, companyID string) (Existing, error) {
		out := Existing{"part_number": {}}
		err := db.ReadAll(ctx, gdb.Model(&models.Part{}).Scopes(db.ForCompany(companyID)).
			Select("id", "part_number", "customer_id"),
			db.ReadPageSize, func(batch []models.Part) error {
				for _, p := range batch {
					cid := ""
					if p.CustomerID != nil {
						cid = *p.CustomerID
					}
					out["part_number"][scopedKey(strings.ToLower(p.PartNumber), cid)] = p.ID
				}
				return nil
			})
		return out, err
	},
	insert: func(tx *gorm.DB, companyID string, records []Record, _ map[string]string) (int, error) {
		rows := make([]models.Part, 0, len(records))
		for _, r := range records {
			p := models.Part{
				CompanyID:   companyID,
				PartNumber:  r["part_number"],
				Description: r["description"],
				Notes:       r["notes"],
				Pricing:     datatypes.JSON("[]"),
			}
			if v, ok := r["customer_id"]; ok {
				p.CustomerID = &v
			}
			if v, ok := r["material_cost"]; ok {
				p.MaterialCost = decimal.NewNullDecimal(decimal.RequireFromString(v))
			}
			if v, ok := r["pricing"]; ok {
				p.Pricing = datatypes.JSON(v)
			}
			rows = append(rows, p)
		}
		if len(rows) == 0 {
			return 0, nil
		}
		res := tx.CreateInBatches(&rows, insertBatchSize)
		return int(res.RowsAffected), res.Error
	},
})
