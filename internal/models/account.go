package models

import "time"

// Roles a team member can hold within a company.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleMember  = "member"
	RoleViewer  = "viewer"
)

// User is a login identity. One user can belong to several companies.
type User struct {
	Model
	Email              string `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Name               string `gorm:"size:128" json:"name"`
	PasswordHash       string `gorm:"size:72" json:"-"`
	MustChangePassword bool   `json:"must_change_password"`
}

// Membership grants a user a role inside a company.
type Membership struct {
	Model
	UserID    string `gorm:"size:36;not null;uniqueIndex:idx_memberships_user_company" json:"user_id"`
	CompanyID string `gorm:"size:36;not null;index;uniqueIndex:idx_memberships_user_company" json:"company_id"`
	Role      string `gorm:"size:16;not null" json:"role"`
	Active    bool   `json:"active"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
}

// Operator is a shop-floor login that authenticates with a PIN or QR badge.
type Operator struct {
	Model
	CompanyID       string     `gorm:"size:36;not null;index;uniqueIndex:idx_operators_company_qr" json:"company_id"`
	Name            string     `gorm:"size:128;not null" json:"name"`
	PinHash         string     `gorm:"size:72" json:"-"`
	QRCodeID        *string    `gorm:"size:64;uniqueIndex:idx_operators_company_qr" json:"qr_code_id"`
	OperationTypeID *string    `gorm:"size:36" json:"operation_type_id"`
	IsActive        bool       `json:"is_active"`
	LastLoginAt     *time.Time `json:"last_login_at"`
}
