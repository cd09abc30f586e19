// Package catalog implements the flat, tenant-scoped CRUD resources of the
// dashboard: customers, parts, inventory, resource groups, operation types,
// quotes, work orders and personnel.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zulandar/jigged/internal/db"
	"gorm.io/gorm"
)

// Query selects one page of a resource listing.
type Query struct {
	Search   string `form:"search"`
	Sort     string `form:"sort"`
	Desc     bool   `form:"desc"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// MaxPageSize caps Query.PageSize.
const MaxPageSize = 500

// Page is one page of results plus the total match count.
type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

// Resource describes a tenant-owned table and the operations allowed on it.
type Resource[T any] struct {
	// Entity names one row in messages, e.g. "customer".
	Entity string
	// ReferencedBy names the rows that can block a delete.
	ReferencedBy string
	// Search lists columns matched case-insensitively by Query.Search.
	Search []string
	// Sort maps accepted sort keys to columns; the first entry of Order is
	// the default.
	Sort  map[string]string
	Order []string
	// Writable lists the columns Update accepts.
	Writable []string
	// Encode converts decoded JSON update values for structured columns.
	Encode func(fields map[string]any) error
	// Owner returns the company id field of a row.
	Owner func(*T) *string
	// Check validates a row before it is written.
	Check func(*T) error
	// Links checks that rows referenced by row belong to the same company.
	Links func(gdb *gorm.DB, companyID string, row *T) error
}

func (r *Resource[T]) scoped(gdb *gorm.DB, companyID string) *gorm.DB {
	return gdb.Model(new(T)).Scopes(db.ForCompany(companyID))
}

// List returns the rows of companyID matching q.
func (r *Resource[T]) List(ctx context.Context, gdb *gorm.DB, companyID string, q Query) (*Page[T], error) {
	tx := r.scoped(gdb.WithContext(ctx), companyID)
	if s := strings.TrimSpace(q.Search); s != "" && len(r.Search) > 0 {
		like := "%" + strings.ToLower(s) + "%"
		conds := make([]string, len(r.Search))
		args := make([]any, len(r.Search))
		for i, col := range r.Search {
			conds[i] = fmt.Sprintf("LOWER(%s) LIKE ?", col)
			args[i] = like
		}
		tx = tx.Where(strings.Join(conds, " OR "), args...)
	}

	page := &Page[T]{Items: []T{}}
	if err := tx.Count(&page.Total).Error; err != nil {
		return nil, db.Wrap("count", r.Entity, err)
	}

	col, ok := r.Sort[q.Sort]
	if !ok && len(r.Order) > 0 {
		col = r.Sort[r.Order[0]]
	}
	if col != "" {
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		tx = tx.Order(fmt.Sprintf("%s %s, id ASC", col, dir))
	}
	if q.PageSize > 0 {
		size := min(q.PageSize, MaxPageSize)
		tx = tx.Limit(size).Offset((max(q.Page, 1) - 1) * size)
	}
	if err := tx.Find(&page.Items).Error; err != nil {
		return nil, db.Wrap("list", r.Entity, err)
	}
	return page, nil
}

// Get returns one row owned by companyID.
func (r *Resource[T]) Get(ctx context.Context, gdb *gorm.DB, companyID, id string) (*T, error) {
	var row T
	err := r.scoped(gdb.WithContext(ctx), companyID).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, db.NotFound(r.Entity, id)
	}
	if err != nil {
		return nil, db.Wrap("get", r.Entity, err)
	}
	return &row, nil
}

// Create inserts row for companyID.
func (r *Resource[T]) Create(ctx context.Context, gdb *gorm.DB, companyID string, row *T) error {
	*r.Owner(row) = companyID
	if r.Check != nil {
		if err := r.Check(row); err != nil {
			return err
		}
	}
	if r.Links != nil {
		if err := r.Links(gdb.WithContext(ctx), companyID, row); err != nil {
			return err
		}
	}
	if err := gdb.WithContext(ctx).Create(row).Error; err != nil {
		return db.Wrap("create", r.Entity, err)
	}
	return nil
}

// Update applies fields, keyed by column name, to one row and returns the
// stored result. Columns outside Writable are rejected.
func (r *Resource[T]) Update(ctx context.Context, gdb *gorm.DB, companyID, id string, fields map[string]any) (*T, error) {
	for col := range fields {
		if !slices.Contains(r.Writable, col) {
			return nil, db.Validation("%s cannot be changed", col)
		}
	}
	if r.Encode != nil {
		if err := r.Encode(fields); err != nil {
			return nil, err
		}
	}
	row, err := r.Get(ctx, gdb, companyID, id)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return row, nil
	}
	err = gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(row).Updates(fields).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).First(row).Error; err != nil {
			return err
		}
		if r.Check != nil {
			if err := r.Check(row); err != nil {
				return err
			}
		}
		if r.Links != nil {
			return r.Links(tx, companyID, row)
		}
		return nil
	})
	if err != nil {
		return nil, db.Wrap("update", r.Entity, err)
	}
	return row, nil
}

// Delete removes one row.
func (r *Resource[T]) Delete(ctx context.Context, gdb *gorm.DB, companyID, id string) error {
	res := r.DeleteMany(ctx, gdb, companyID, []string{id})
	if len(res.Failed) > 0 {
		return res.Failed[0].Err
	}
	return nil
}

// DeleteMany removes rows in chunks and reports each failure separately.
func (r *Resource[T]) DeleteMany(ctx context.Context, gdb *gorm.DB, companyID string, ids []string) db.BatchResult {
	return db.DeleteByIDs(ctx, gdb, new(T), ids, db.DeleteOpts{
		Entity:       r.Entity,
		ReferencedBy: r.ReferencedBy,
		Scopes:       []db.Scope{db.ForCompany(companyID)},
	})
}

type field struct{ name, value string }

// required reports the first blank field.
func required(entity string, fields ...field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return db.Validation("%s %s is required", entity, f.name)
		}
	}
	return nil
}

// owned checks that id names a row of model belonging to companyID.
func owned(gdb *gorm.DB, companyID string, model any, entity, id string) error {
	var n int64
	if err := gdb.Model(model).Scopes(db.ForCompany(companyID)).Where("id = ?", id).Count(&n).Error; err != nil {
		return db.Wrap("get", entity, err)
	}
	if n == 0 {
		return db.NotFound(entity, id)
	}
	return nil
}
