package accounts

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var pinPattern = regexp.MustCompile(`^\d{4,6}$`)

// Operator is a shop-floor login without its PIN hash.
type Operator = models.Operator

// OperatorInput creates or edits an operator. Nil fields are unchanged
// on update; Pin is required on create.
type OperatorInput struct {
	Name            *string `json:"name" validate:"omitempty,min=1,max=128"`
	Pin             *string `json:"pin"`
	QRCodeID        *string `json:"qr_code_id" validate:"omitempty,max=64"`
	OperationTypeID *string `json:"operation_type_id"`
	IsActive        *bool   `json:"is_active"`
}

func checkPin(pin string) error {
	if !pinPattern.MatchString(pin) {
		return db.Validation("PIN must be 4 to 6 digits")
	}
	return nil
}

// ListOperators returns the company's operators by name.
func (s *Service) ListOperators(ctx context.Context, companyID string) ([]Operator, error) {
	var out []Operator
	err := s.DB.WithContext(ctx).Scopes(db.ForCompany(companyID)).Order("name").Find(&out).Error
	return out, db.Wrap("list", "operator", err)
}

// CreateOperator adds an active operator.
func (s *Service) CreateOperator(ctx context.Context, companyID string, in OperatorInput) (*Operator, error) {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, db.Validation("operator name is required")
	}
	if in.Pin == nil {
		return nil, db.Validation("PIN is required")
	}
	if err := check(in); err != nil {
		return nil, err
	}
	if err := checkPin(*in.Pin); err != nil {
		return nil, err
	}
	if err := s.checkOperationType(ctx, companyID, in.OperationTypeID); err != nil {
		return nil, err
	}
	hash, err := s.hash(*in.Pin)
	if err != nil {
		return nil, db.Wrap("create", "operator", err)
	}
	op := Operator{
		CompanyID:       companyID,
		Name:            strings.TrimSpace(*in.Name),
		PinHash:         hash,
		QRCodeID:        blankToNil(in.QRCodeID),
		OperationTypeID: blankToNil(in.OperationTypeID),
		IsActive:        in.IsActive == nil || *in.IsActive,
	}
	if err := s.DB.WithContext(ctx).Create(&op).Error; err != nil {
		return nil, db.Wrap("create", "operator", err)
	}
	return &op, nil
}

// UpdateOperator changes the non-nil fields of an operator.
func (s *Service) UpdateOperator(ctx context.Context, companyID, id string, in OperatorInput) (*Operator, error) {
	if err := check(in); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, db.Validation("operator name is required")
		}
		updates["name"] = strings.TrimSpace(*in.Name)
	}
	if in.Pin != nil {
		if err := checkPin(*in.Pin); err != nil {
			return nil, err
		}
		hash, err := s.hash(*in.Pin)
		if err != nil {
			return nil, db.Wrap("update", "operator", err)
		}
		updates["pin_hash"] = hash
	}
	if in.QRCodeID != nil {
		updates["qr_code_id"] = blankToNil(in.QRCodeID)
	}
	if in.OperationTypeID != nil {
		if err := s.checkOperationType(ctx, companyID, in.OperationTypeID); err != nil {
			return nil, err
		}
		updates["operation_type_id"] = blankToNil(in.OperationTypeID)
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}

	var op Operator
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Scopes(db.ForCompany(companyID)).First(&op, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return db.NotFound("operator", id)
			}
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&op).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&op, "id = ?", id).Error
	})
	if err != nil {
		return nil, db.Wrap("update", "operator", err)
	}
	return &op, nil
}

func (s *Service) checkOperationType(ctx context.Context, companyID string, id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	var n int64
	if err := s.DB.WithContext(ctx).Model(&models.OperationType{}).Scopes(db.ForCompany(companyID)).
		Where("id = ?", *id).Count(&n).Error; err != nil {
		return db.Wrap("get", "operation type", err)
	}
	if n == 0 {
		return db.NotFound("operation type", *id)
	}
	return nil
}

// OperatorLogin signs an operator in by PIN or by QR badge id and issues
// an eight-hour token. Exactly one of pin and qrCodeID must be set.
func (s *Service) OperatorLogin(ctx context.Context, companyID, pin, qrCodeID string) (*Session, error) {
	if (pin == "") == (qrCodeID == "") {
		return nil, db.Validation("either a PIN or a QR code is required")
	}
	q := s.DB.WithContext(ctx).Scopes(db.ForCompany(companyID)).Where("is_active = ?", true)

	var op Operator
	if qrCodeID != "" {
		err := q.Where("qr_code_id = ?", qrCodeID).First(&op).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		if err != nil {
			return nil, db.Wrap("login", "operator", err)
		}
	} else {
		var candidates []Operator
		if err := q.Find(&candidates).Error; err != nil {
			return nil, db.Wrap("login", "operator", err)
		}
		found := false
		for _, c := range candidates {
			if bcrypt.CompareHashAndPassword([]byte(c.PinHash), []byte(pin)) == nil {
				op, found = c, true
				break
			}
		}
		if !found {
			return nil, ErrInvalidCredentials
		}
	}

	now := s.clock()
	if err := s.DB.WithContext(ctx).Model(&op).Update("last_login_at", now).Error; err != nil {
		return nil, db.Wrap("login", "operator", err)
	}
	op.LastLoginAt = &now

	token, exp, err := s.Tokens.Issue(Principal{Subject: op.ID, CompanyID: companyID, Role: "operator", Kind: KindOperator}, OperatorTokenTTL)
	if err != nil {
		return nil, err
	}
	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{"company_id": companyID, "operator_id": op.ID}).Info("operator signed in")
	}
	return &Session{Token: token, ExpiresAt: exp, Operator: &op}, nil
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
