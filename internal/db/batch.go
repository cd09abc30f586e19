package db

import (
	"context"

	"gorm.io/gorm"
)

const (
	// DeleteChunkSize caps the ids sent in one delete statement.
	DeleteChunkSize = 100
	// ReadPageSize caps the rows fetched per batched read.
	ReadPageSize = 1000
)

// ItemError is the failure of one id in a batch operation.
type ItemError struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// Message renders the item error for API responses.
func (e ItemError) Message() string { return UserMessage(e.Err) }

// BatchResult accumulates per-item outcomes of a batch operation.
type BatchResult struct {
	Deleted []string
	Failed  []ItemError
}

// OK reports whether every item succeeded.
func (r BatchResult) OK() bool { return len(r.Failed) == 0 }

// DeleteOpts describes a chunked delete.
type DeleteOpts struct {
	Entity       string
	ReferencedBy string
	ChunkSize    int
	Scopes       []Scope
}

// DeleteByIDs deletes ids of model in chunks. Each chunk is one statement.
// A transport failure fails the whole chunk and processing moves on; a
// constraint failure retries the chunk id by id so each offender gets its
// own error. Ids not visible through the scopes are reported not found.
// db must not be inside a transaction.
func DeleteByIDs(ctx context.Context, db *gorm.DB, model any, ids []string, opts DeleteOpts) BatchResult {
	size := opts.ChunkSize
	if size <= 0 || size > DeleteChunkSize {
		size = DeleteChunkSize
	}

	var res BatchResult
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunk := ids[start:end]

		var existing []string
		if err := db.WithContext(ctx).Model(model).Scopes(opts.Scopes...).
			Where("id IN ?", chunk).Pluck("id", &existing).Error; err != nil {
			res.failAll(chunk, Wrap("delete", opts.Entity, err))
			continue
		}
		present := make(map[string]bool, len(existing))
		for _, id := range existing {
			present[id] = true
		}
		var targets []string
		for _, id := range chunk {
			if present[id] {
				targets = append(targets, id)
			} else {
				res.Failed = append(res.Failed, ItemError{ID: id, Err: NotFound(opts.Entity, id)})
			}
		}
		if len(targets) == 0 {
			continue
		}

		err := db.WithContext(ctx).Scopes(opts.Scopes...).Where("id IN ?", targets).Delete(model).Error
		if err == nil {
			res.Deleted = append(res.Deleted, targets...)
			continue
		}
		if KindOf(err) != KindConstraint {
			res.failAll(targets, WrapDelete(opts.Entity, opts.ReferencedBy, err))
			continue
		}
		for _, id := range targets {
			if err := db.WithContext(ctx).Scopes(opts.Scopes...).Where("id = ?", id).Delete(model).Error; err != nil {
				res.Failed = append(res.Failed, ItemError{ID: id, Err: WrapDelete(opts.Entity, opts.ReferencedBy, err)})
				continue
			}
			res.Deleted = append(res.Deleted, id)
		}
	}
	return res
}

func (r *BatchResult) failAll(ids []string, err error) {
	for _, id := range ids {
		r.Failed = append(r.Failed, ItemError{ID: id, Err: err})
	}
}

// ReadAll walks the rows selected by q in pages of at most pageSize,
// ordered by primary key, stopping after the first short page.
func ReadAll[T any](ctx context.Context, q *gorm.DB, pageSize int, fn func(batch []T) error) error {
	if pageSize <= 0 || pageSize > ReadPageSize {
		pageSize = ReadPageSize
	}
	var batch []T
	res := q.WithContext(ctx).FindInBatches(&batch, pageSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	})
	if res.Error != nil {
		return Wrap("read", "rows", res.Error)
	}
	return nil
}
