package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scope is a reusable query restriction.
type Scope = func(*gorm.DB) *gorm.DB

// ForCompany restricts a query to rows owned by companyID. The column is
// qualified with the statement's table so joins stay unambiguous.
func ForCompany(companyID string) Scope {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where(clause.Eq{
			Column: clause.Column{Table: clause.CurrentTable, Name: "company_id"},
			Value:  companyID,
		})
	}
}
