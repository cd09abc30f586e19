package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestModel_BeforeCreateAssignsID(t *testing.T) {
	m := &Model{}
	if err := m.BeforeCreate(nil); err != nil {
		t.Fatalf("BeforeCreate: %v", err)
	}
	if len(m.ID) != 36 {
		t.Errorf("ID = %q, want a UUID", m.ID)
	}

	kept := &Model{ID: "fixed"}
	_ = kept.BeforeCreate(nil)
	if kept.ID != "fixed" {
		t.Errorf("ID = %q, want caller-chosen id kept", kept.ID)
	}
}

func TestTenantTables_HaveCompanyIndex(t *testing.T) {
	for _, v := range []any{
		Customer{}, Part{}, InventoryItem{}, Quote{}, WorkOrder{}, Personnel{},
		ResourceGroup{}, OperationType{}, Routing{}, Membership{}, Operator{},
		AIConfig{}, Attachment{},
	} {
		typ := reflect.TypeOf(v)
		assertGormTag(t, typ, "CompanyID", "size:36")
		assertGormTag(t, typ, "CompanyID", "not null")
		assertFieldType(t, typ, "CompanyID", "string")
	}
}

func TestRouting_Relations(t *testing.T) {
	typ := reflect.TypeOf(Routing{})

	assertGormTag(t, typ, "Name", "uniqueIndex:idx_routings_company_name")
	assertGormTag(t, typ, "CompanyID", "uniqueIndex:idx_routings_company_name")
	assertGormTag(t, typ, "Nodes", "constraint:OnDelete:CASCADE")
	assertGormTag(t, typ, "Edges", "constraint:OnDelete:CASCADE")

	assertFieldType(t, typ, "PartID", "*string")
	assertGormTag(t, typ, "Part", "foreignKey:PartID")
	assertGormTag(t, typ, "Part", "constraint:OnDelete:SET NULL")
	assertFieldType(t, typ, "Nodes", "[]models.RoutingNode")
	assertFieldType(t, typ, "Edges", "[]models.RoutingEdge")
}

func TestRoutingNode_Fields(t *testing.T) {
	typ := reflect.TypeOf(RoutingNode{})

	assertGormTag(t, typ, "RoutingID", "not null")
	assertGormTag(t, typ, "OperationTypeID", "not null")
	assertGormTag(t, typ, "OperationType", "constraint:OnDelete:RESTRICT")
	assertGormTag(t, typ, "Instructions", "type:text")

	assertFieldType(t, typ, "SetupTime", "*float64")
	assertFieldType(t, typ, "RunTimePerUnit", "*float64")
	assertFieldType(t, typ, "Instructions", "*string")
}

func TestRoutingEdge_UniquePair(t *testing.T) {
	typ := reflect.TypeOf(RoutingEdge{})

	for _, f := range []string{"RoutingID", "SourceNodeID", "TargetNodeID"} {
		assertGormTag(t, typ, f, "uniqueIndex:idx_routing_edges_pair")
	}
	assertGormTag(t, typ, "Source", "foreignKey:SourceNodeID")
	assertGormTag(t, typ, "Target", "foreignKey:TargetNodeID")
	assertGormTag(t, typ, "Source", "OnDelete:CASCADE")
}

func TestOperationType_Fields(t *testing.T) {
	typ := reflect.TypeOf(OperationType{})

	assertGormTag(t, typ, "ResourceGroup", "OnDelete:SET NULL")
	assertGormTag(t, typ, "LaborRate", "decimal(10,2)")
	assertFieldType(t, typ, "LaborRate", "decimal.NullDecimal")
	assertFieldType(t, typ, "Metadata", "datatypes.JSON")
	assertFieldType(t, typ, "ResourceGroupID", "*string")
}

func TestCustomer_Defaults(t *testing.T) {
	typ := reflect.TypeOf(Customer{})
	assertGormTag(t, typ, "Country", "default:USA")
	assertGormTag(t, typ, "CustomerCode", "uniqueIndex:idx_customers_company_code")
}

func TestPart_Fields(t *testing.T) {
	typ := reflect.TypeOf(Part{})
	for _, f := range []string{"CompanyID", "CustomerID", "PartNumber"} {
		assertGormTag(t, typ, f, "uniqueIndex:idx_parts_company_customer_number")
	}
	assertGormTag(t, typ, "Customer", "constraint:OnDelete:RESTRICT")
	assertFieldType(t, typ, "CustomerID", "*string")
	assertFieldType(t, typ, "Pricing", "datatypes.JSON")
	assertFieldType(t, typ, "MaterialCost", "decimal.NullDecimal")
}

func TestAccounts_Fields(t *testing.T) {
	user := reflect.TypeOf(User{})
	assertGormTag(t, user, "Email", "uniqueIndex")
	f, _ := user.FieldByName("PasswordHash")
	if f.Tag.Get("json") != "-" {
		t.Error("PasswordHash must not be serialized")
	}

	op := reflect.TypeOf(Operator{})
	f, _ = op.FieldByName("PinHash")
	if f.Tag.Get("json") != "-" {
		t.Error("PinHash must not be serialized")
	}
	assertFieldType(t, op, "LastLoginAt", "*time.Time")
	assertFieldType(t, op, "QRCodeID", "*string")

	m := reflect.TypeOf(Membership{})
	assertGormTag(t, m, "UserID", "uniqueIndex:idx_memberships_user_company")
	assertGormTag(t, m, "CompanyID", "uniqueIndex:idx_memberships_user_company")
}

func TestTableNames(t *testing.T) {
	if got := (Personnel{}).TableName(); got != "personnel" {
		t.Errorf("Personnel table = %q, want personnel", got)
	}
	if got := (AIConfig{}).TableName(); got != "ai_configs" {
		t.Errorf("AIConfig table = %q, want ai_configs", got)
	}
}
