package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// Kind classifies a persistence failure so callers can branch without
// inspecting driver errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindDuplicate
	KindConstraint
	KindPermission
	KindTransport
)

var kindNames = map[Kind]string{
	KindUnknown:    "unknown",
	KindValidation: "validation",
	KindNotFound:   "not_found",
	KindConflict:   "conflict",
	KindDuplicate:  "duplicate",
	KindConstraint: "constraint_violation",
	KindPermission: "permission_denied",
	KindTransport:  "transport",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified persistence error.
type Error struct {
	Kind   Kind
	Op     string
	Entity string
	// ReferencedBy names what still points at the entity on a
	// foreign-key violation, e.g. "routing steps".
	ReferencedBy string
	Msg          string
	Err          error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "":
		return e.Msg
	case e.Kind == KindPermission:
		return "Permission denied"
	case e.Kind == KindConstraint && e.ReferencedBy != "":
		return fmt.Sprintf("Cannot delete %s because it is referenced by %s; remove those references first", e.Entity, e.ReferencedBy)
	case e.Kind == KindConstraint:
		return fmt.Sprintf("Cannot save %s because a referenced record is missing or still in use", e.Entity)
	case e.Kind == KindDuplicate:
		return fmt.Sprintf("%s already exists", capitalize(e.Entity))
	case e.Kind == KindNotFound:
		return fmt.Sprintf("%s not found", e.Entity)
	}
	if e.Err != nil {
		return fmt.Sprintf("db: %s %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("db: %s %s failed", e.Op, e.Entity)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err and annotates it with the operation and entity. nil
// stays nil; an already classified error is returned unchanged.
func Wrap(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: Classify(err), Op: op, Entity: entity, Err: err}
}

// WrapDelete is Wrap for deletes, naming the referrer on FK violations.
func WrapDelete(entity, referencedBy string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := Classify(err)
	out := &Error{Kind: kind, Op: "delete", Entity: entity, Err: err}
	if kind == KindConstraint {
		out.ReferencedBy = referencedBy
		if out.ReferencedBy == "" {
			out.ReferencedBy = "other records"
		}
	}
	return out
}

// NotFound reports a missing entity.
func NotFound(entity, id string) error {
	return &Error{Kind: KindNotFound, Entity: entity, Msg: fmt.Sprintf("%s not found: %s", entity, id)}
}

// Validation reports bad caller input.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Conflict reports a request that clashes with current state.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// PermissionDenied reports a refused operation.
func PermissionDenied(op string) error {
	return &Error{Kind: KindPermission, Op: op}
}

// KindOf returns the kind carried by err, classifying raw errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err)
}

// Classify maps driver and GORM errors to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return KindNotFound
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return KindConstraint
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return KindDuplicate
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn):
		return KindTransport
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1451, 1452:
			return KindConstraint
		case 1062:
			return KindDuplicate
		case 1044, 1045, 1142, 1143:
			return KindPermission
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23503":
			return KindConstraint
		case pgErr.Code == "23505":
			return KindDuplicate
		case pgErr.Code == "42501":
			return KindPermission
		case strings.HasPrefix(pgErr.Code, "08"):
			return KindTransport
		}
	}

	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch {
		case sqErr.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return KindConstraint
		case sqErr.ExtendedCode == sqlite3.ErrConstraintUnique, sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return KindDuplicate
		case sqErr.Code == sqlite3.ErrPerm, sqErr.Code == sqlite3.ErrAuth, sqErr.Code == sqlite3.ErrReadonly:
			return KindPermission
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransport
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return KindConstraint
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return KindDuplicate
	case strings.Contains(msg, "permission denied"):
		return KindPermission
	}
	return KindUnknown
}

// UserMessage renders err for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
