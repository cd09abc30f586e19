package routing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/layout"
	"github.com/zulandar/jigged/internal/models"
	"gorm.io/gorm"
)

// NodeFields are the editable attributes of a step. Times are minutes;
// nil means no time recorded.
type NodeFields struct {
	SetupTime      *float64 `json:"setup_time" validate:"omitempty,gte=0"`
	RunTimePerUnit *float64 `json:"run_time_per_unit" validate:"omitempty,gte=0"`
	Instructions   *string  `json:"instructions"`
}

// Equal reports whether two field sets hold the same values.
func (f NodeFields) Equal(o NodeFields) bool {
	return eqFloat(f.SetupTime, o.SetupTime) &&
		eqFloat(f.RunTimePerUnit, o.RunTimePerUnit) &&
		eqString(f.Instructions, o.Instructions)
}

// FieldsOf extracts the editable fields of a stored node.
func FieldsOf(n models.RoutingNode) NodeFields {
	return NodeFields{SetupTime: n.SetupTime, RunTimePerUnit: n.RunTimePerUnit, Instructions: n.Instructions}
}

// PositionOf returns a stored node's canvas position.
func PositionOf(n models.RoutingNode) layout.Point {
	return layout.Point{X: n.PositionX, Y: n.PositionY}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var fieldLabels = map[string]string{
	"SetupTime":      "setup time",
	"RunTimePerUnit": "run time per unit",
}

// ValidateNodeFields rejects negative times. Blank instructions are
// normalized to nil.
func ValidateNodeFields(f *NodeFields) error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s must be zero or greater", fieldLabels[fe.Field()]))
			}
			return db.Validation("%s", strings.Join(msgs, "; "))
		}
		return db.Validation("%v", err)
	}
	if f.Instructions != nil && strings.TrimSpace(*f.Instructions) == "" {
		f.Instructions = nil
	}
	return nil
}

// AddNodeOpts holds parameters for adding a step.
type AddNodeOpts struct {
	OperationTypeID string
	Position        layout.Point
}

// AddNode creates a step for an operation type. Timing starts blank.
func AddNode(gdb *gorm.DB, companyID, routingID string, opts AddNodeOpts) (*models.RoutingNode, error) {
	if opts.OperationTypeID == "" {
		return nil, db.Validation("operation type is required")
	}
	if _, err := Get(gdb, companyID, routingID); err != nil {
		return nil, err
	}
	if err := checkOperationType(gdb, companyID, opts.OperationTypeID); err != nil {
		return nil, err
	}
	node := models.RoutingNode{
		RoutingID:       routingID,
		OperationTypeID: opts.OperationTypeID,
		PositionX:       opts.Position.X,
		PositionY:       opts.Position.Y,
	}
	if err := gdb.Create(&node).Error; err != nil {
		return nil, db.Wrap("create", "routing step", err)
	}
	return &node, nil
}

// UpdateNode replaces a step's editable fields after validating them.
func UpdateNode(gdb *gorm.DB, companyID, routingID, nodeID string, fields NodeFields) (*models.RoutingNode, error) {
	if err := ValidateNodeFields(&fields); err != nil {
		return nil, err
	}
	node, err := getNode(gdb, companyID, routingID, nodeID)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"setup_time":        fields.SetupTime,
		"run_time_per_unit": fields.RunTimePerUnit,
		"instructions":      fields.Instructions,
	}
	if err := gdb.Model(node).Updates(updates).Error; err != nil {
		return nil, db.Wrap("update", "routing step", err)
	}
	node.SetupTime, node.RunTimePerUnit, node.Instructions = fields.SetupTime, fields.RunTimePerUnit, fields.Instructions
	return node, nil
}

// MoveNode stores a step's canvas position.
func MoveNode(gdb *gorm.DB, companyID, routingID, nodeID string, p layout.Point) error {
	node, err := getNode(gdb, companyID, routingID, nodeID)
	if err != nil {
		return err
	}
	if err := gdb.Model(node).Updates(map[string]interface{}{"position_x": p.X, "position_y": p.Y}).Error; err != nil {
		return db.Wrap("move", "routing step", err)
	}
	return nil
}

// DeleteNode removes a step and every link that starts or ends at it.
func DeleteNode(gdb *gorm.DB, companyID, routingID, nodeID string) error {
	if _, err := getNode(gdb, companyID, routingID, nodeID); err != nil {
		return err
	}
	err := gdb.Transaction(func(tx *gorm.DB) error {
		return deleteNodeTx(tx, routingID, nodeID)
	})
	return db.WrapDelete("routing step", "", err)
}

func deleteNodeTx(tx *gorm.DB, routingID, nodeID string) error {
	if err := tx.Where("routing_id = ? AND (source_node_id = ? OR target_node_id = ?)", routingID, nodeID, nodeID).
		Delete(&models.RoutingEdge{}).Error; err != nil {
		return err
	}
	return tx.Where("routing_id = ? AND id = ?", routingID, nodeID).Delete(&models.RoutingNode{}).Error
}

func getNode(gdb *gorm.DB, companyID, routingID, nodeID string) (*models.RoutingNode, error) {
	if _, err := Get(gdb, companyID, routingID); err != nil {
		return nil, err
	}
	var node models.RoutingNode
	if err := gdb.Where("routing_id = ? AND id = ?", routingID, nodeID).First(&node).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, db.NotFound("routing step", nodeID)
		}
		return nil, db.Wrap("get", "routing step", err)
	}
	return &node, nil
}

func checkOperationType(gdb *gorm.DB, companyID, id string) error {
	var count int64
	if err := gdb.Model(&models.OperationType{}).Scopes(db.ForCompany(companyID)).
		Where("id = ?", id).Count(&count).Error; err != nil {
		return db.Wrap("check", "operation type", err)
	}
	if count == 0 {
		return db.NotFound("operation type", id)
	}
	return nil
}

func eqFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
