// Package routing manages routings and their operation graphs: steps
// (nodes), precedence links (edges), time totals and batched saves.
package routing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/models"
	"gorm.io/gorm"
)

// CreateOpts holds parameters for creating a routing.
type CreateOpts struct {
	Name        string
	PartID      string
	Description string
	IsDefault   bool
	Revision    string
}

// UpdateOpts holds the routing fields to change; nil leaves a field as is.
type UpdateOpts struct {
	Name        *string
	PartID      *string
	Description *string
	IsDefault   *bool
	Revision    *string
}

// ListFilters holds optional filters for listing routings.
type ListFilters struct {
	Search   string
	PartID   string
	Sort     string // name, created_at, updated_at
	Desc     bool
	Page     int
	PageSize int
}

// Graph is a routing together with its steps and links.
type Graph struct {
	Routing models.Routing       `json:"routing"`
	Nodes   []models.RoutingNode `json:"nodes"`
	Edges   []models.RoutingEdge `json:"edges"`
}

var sortColumns = map[string]string{
	"name":       "name",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

// Create creates a routing. Marking it default clears the flag on the
// part's other routings.
func Create(gdb *gorm.DB, companyID string, opts CreateOpts) (*models.Routing, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, db.Validation("routing name is required")
	}
	r := models.Routing{
		CompanyID:   companyID,
		Name:        name,
		Description: opts.Description,
		IsDefault:   opts.IsDefault,
		Revision:    opts.Revision,
	}
	if opts.PartID != "" {
		if err := checkPart(gdb, companyID, opts.PartID); err != nil {
			return nil, err
		}
		r.PartID = &opts.PartID
	}

	err := gdb.Transaction(func(tx *gorm.DB) error {
		if r.IsDefault && r.PartID != nil {
			if err := clearDefault(tx, companyID, *r.PartID, ""); err != nil {
				return err
			}
		}
		return tx.Create(&r).Error
	})
	if err != nil {
		return nil, db.Wrap("create", "routing", err)
	}
	return &r, nil
}

// Get retrieves a routing by id within the company.
func Get(gdb *gorm.DB, companyID, id string) (*models.Routing, error) {
	var r models.Routing
	if err := gdb.Scopes(db.ForCompany(companyID)).Where("id = ?", id).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, db.NotFound("routing", id)
		}
		return nil, db.Wrap("get", "routing", err)
	}
	return &r, nil
}

// GetGraph loads a routing with its nodes (operation types preloaded) and
// edges, both in creation order.
func GetGraph(gdb *gorm.DB, companyID, id string) (*Graph, error) {
	r, err := Get(gdb, companyID, id)
	if err != nil {
		return nil, err
	}
	g := Graph{Routing: *r}
	if err := gdb.Preload("OperationType").Where("routing_id = ?", id).
		Order("created_at ASC, id ASC").Find(&g.Nodes).Error; err != nil {
		return nil, db.Wrap("list", "routing nodes", err)
	}
	if err := gdb.Where("routing_id = ?", id).
		Order("created_at ASC, id ASC").Find(&g.Edges).Error; err != nil {
		return nil, db.Wrap("list", "routing edges", err)
	}
	return &g, nil
}

// List returns one page of routings matching filters and the total count.
func List(gdb *gorm.DB, companyID string, filters ListFilters) ([]models.Routing, int64, error) {
	q := gdb.Model(&models.Routing{}).Scopes(db.ForCompany(companyID))
	if s := strings.TrimSpace(filters.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}
	if filters.PartID != "" {
		q = q.Where("part_id = ?", filters.PartID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, db.Wrap("count", "routings", err)
	}

	col, ok := sortColumns[filters.Sort]
	if !ok {
		col = "name"
	}
	dir := "ASC"
	if filters.Desc {
		dir = "DESC"
	}
	q = q.Order(fmt.Sprintf("%s %s, id ASC", col, dir))
	if filters.PageSize > 0 {
		page := max(filters.Page, 1)
		q = q.Limit(filters.PageSize).Offset((page - 1) * filters.PageSize)
	}

	var out []models.Routing
	if err := q.Find(&out).Error; err != nil {
		return nil, 0, db.Wrap("list", "routings", err)
	}
	return out, total, nil
}

// Update modifies routing fields.
func Update(gdb *gorm.DB, companyID, id string, opts UpdateOpts) (*models.Routing, error) {
	r, err := Get(gdb, companyID, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if name == "" {
			return nil, db.Validation("routing name is required")
		}
		updates["name"] = name
	}
	if opts.PartID != nil {
		if *opts.PartID == "" {
			updates["part_id"] = nil
		} else {
			if err := checkPart(gdb, companyID, *opts.PartID); err != nil {
				return nil, err
			}
			updates["part_id"] = *opts.PartID
		}
	}
	if opts.Description != nil {
		updates["description"] = *opts.Description
	}
	if opts.Revision != nil {
		updates["revision"] = *opts.Revision
	}
	if opts.IsDefault != nil {
		updates["is_default"] = *opts.IsDefault
	}
	if len(updates) == 0 {
		return r, nil
	}

	err = gdb.Transaction(func(tx *gorm.DB) error {
		partID := r.PartID
		if v, ok := updates["part_id"]; ok {
			partID = nil
			if s, ok := v.(string); ok {
				partID = &s
			}
		}
		if opts.IsDefault != nil && *opts.IsDefault && partID != nil {
			if err := clearDefault(tx, companyID, *partID, id); err != nil {
				return err
			}
		}
		return tx.Model(&models.Routing{}).Scopes(db.ForCompany(companyID)).
			Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return nil, db.Wrap("update", "routing", err)
	}
	return Get(gdb, companyID, id)
}

// Delete removes a routing with all of its nodes and edges.
func Delete(gdb *gorm.DB, companyID, id string) error {
	if _, err := Get(gdb, companyID, id); err != nil {
		return err
	}
	err := gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("routing_id = ?", id).Delete(&models.RoutingEdge{}).Error; err != nil {
			return err
		}
		if err := tx.Where("routing_id = ?", id).Delete(&models.RoutingNode{}).Error; err != nil {
			return err
		}
		return tx.Scopes(db.ForCompany(companyID)).Where("id = ?", id).Delete(&models.Routing{}).Error
	})
	return db.WrapDelete("routing", "work orders", err)
}

// ResolvePart returns the id of the company's part whose id or part number
// is ref. A part number shared by several customers' parts is ambiguous.
func ResolvePart(gdb *gorm.DB, companyID, ref string) (string, error) {
	q := func() *gorm.DB { return gdb.Model(&models.Part{}).Scopes(db.ForCompany(companyID)) }
	var ids []string
	if err := q().Where("id = ?", ref).Pluck("id", &ids).Error; err != nil {
		return "", db.Wrap("get", "part", err)
	}
	if len(ids) == 1 {
		return ids[0], nil
	}
	if err := q().Where("LOWER(part_number) = ?", strings.ToLower(strings.TrimSpace(ref))).
		Pluck("id", &ids).Error; err != nil {
		return "", db.Wrap("get", "part", err)
	}
	switch len(ids) {
	case 0:
		return "", db.NotFound("part", ref)
	case 1:
		return ids[0], nil
	default:
		return "", db.Validation("part number %q matches %d parts; use the part id", ref, len(ids))
	}
}

func checkPart(gdb *gorm.DB, companyID, id string) error {
	var count int64
	if err := gdb.Model(&models.Part{}).Scopes(db.ForCompany(companyID)).
		Where("id = ?", id).Count(&count).Error; err != nil {
		return db.Wrap("check", "part", err)
	}
	if count == 0 {
		return db.NotFound("part", id)
	}
	return nil
}

func clearDefault(tx *gorm.DB, companyID, partID, exceptID string) error {
	q := tx.Model(&models.Routing{}).Scopes(db.ForCompany(companyID)).
		Where("part_id = ? AND is_default = ?", partID, true)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	return q.Update("is_default", false).Error
}
