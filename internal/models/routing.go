package models

// Routing is the ordered set of operations that produces a part.
type Routing struct {
	Model
	CompanyID   string  `gorm:"size:36;not null;index;uniqueIndex:idx_routings_company_name" json:"company_id"`
	Name        string  `gorm:"size:128;not null;uniqueIndex:idx_routings_company_name" json:"name"`
	PartID      *string `gorm:"size:36;index" json:"part_id"`
	Description string  `gorm:"type:text" json:"description"`
	IsDefault   bool    `json:"is_default"`
	Revision    string  `gorm:"size:16" json:"revision"`

	Part  *Part         `gorm:"foreignKey:PartID;constraint:OnDelete:SET NULL" json:"-"`
	Nodes []RoutingNode `gorm:"foreignKey:RoutingID;constraint:OnDelete:CASCADE" json:"nodes,omitempty"`
	Edges []RoutingEdge `gorm:"foreignKey:RoutingID;constraint:OnDelete:CASCADE" json:"edges,omitempty"`
}

// RoutingNode is one operation step. Times are minutes; nil means unset.
type RoutingNode struct {
	Model
	RoutingID       string   `gorm:"size:36;not null;index" json:"routing_id"`
	OperationTypeID string   `gorm:"size:36;not null;index" json:"operation_type_id"`
	SetupTime       *float64 `json:"setup_time"`
	RunTimePerUnit  *float64 `json:"run_time_per_unit"`
	Instructions    *string  `gorm:"type:text" json:"instructions"`
	PositionX       float64  `json:"position_x"`
	PositionY       float64  `json:"position_y"`

	OperationType *OperationType `gorm:"foreignKey:OperationTypeID;constraint:OnDelete:RESTRICT" json:"operation_type,omitempty"`
}

// RoutingEdge orders two steps of the same routing: source precedes target.
type RoutingEdge struct {
	Model
	RoutingID    string `gorm:"size:36;not null;index;uniqueIndex:idx_routing_edges_pair" json:"routing_id"`
	SourceNodeID string `gorm:"size:36;not null;uniqueIndex:idx_routing_edges_pair" json:"source_node_id"`
	TargetNodeID string `gorm:"size:36;not null;uniqueIndex:idx_routing_edges_pair" json:"target_node_id"`

	Source *RoutingNode `gorm:"foreignKey:SourceNodeID;constraint:OnDelete:CASCADE" json:"-"`
	Target *RoutingNode `gorm:"foreignKey:TargetNodeID;constraint:OnDelete:CASCADE" json:"-"`
}
