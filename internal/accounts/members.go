// Package accounts manages team members, shop-floor operators and the
// bearer tokens both log in with.
package accounts

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// MinPasswordLength applies to passwords chosen by users.
const MinPasswordLength = 8

// ErrInvalidCredentials is returned for any failed login.
var ErrInvalidCredentials = errors.New("invalid credentials")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service manages accounts within companies.
type Service struct {
	DB     *gorm.DB
	Tokens *Tokens
	Log    *logrus.Entry
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
	now  func() time.Time
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Service) hash(secret string) (string, error) {
	cost := s.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Member is a user's membership in one company.
type Member struct {
	ID                 string `json:"id"`
	UserID             string `json:"user_id"`
	Email              string `json:"email"`
	Name               string `json:"name"`
	Role               string `json:"role"`
	Active             bool   `json:"active"`
	MustChangePassword bool   `json:"must_change_password"`
}

func memberOf(m models.Membership) Member {
	out := Member{ID: m.ID, UserID: m.UserID, Role: m.Role, Active: m.Active}
	if m.User != nil {
		out.Email, out.Name, out.MustChangePassword = m.User.Email, m.User.Name, m.User.MustChangePassword
	}
	return out
}

// CreateMemberInput adds someone to a company.
type CreateMemberInput struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"max=128"`
	Role  string `json:"role" validate:"required,oneof=admin manager member viewer"`
}

// UpdateMemberInput changes the non-nil attributes of a membership.
type UpdateMemberInput struct {
	Name   *string `json:"name" validate:"omitempty,max=128"`
	Role   *string `json:"role" validate:"omitempty,oneof=admin manager member viewer"`
	Active *bool   `json:"active"`
}

func check(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, strings.ToLower(fe.Field())+" is invalid")
			}
			return db.Validation("%s", strings.Join(msgs, "; "))
		}
		return db.Validation("%v", err)
	}
	return nil
}

// ListMembers returns the company's members, optionally only one role.
func (s *Service) ListMembers(ctx context.Context, companyID, role string) ([]Member, error) {
	q := s.DB.WithContext(ctx).Preload("User").Scopes(db.ForCompany(companyID)).Order("created_at")
	if role != "" {
		q = q.Where("role = ?", role)
	}
	var rows []models.Membership
	if err := q.Find(&rows).Error; err != nil {
		return nil, db.Wrap("list", "member", err)
	}
	out := make([]Member, len(rows))
	for i, m := range rows {
		out[i] = memberOf(m)
	}
	return out, nil
}

// CreateMember adds in.Email to the company. An existing user gains a
// membership; a new user is created with a temporary password, which is
// returned and must be changed on first login.
func (s *Service) CreateMember(ctx context.Context, companyID string, in CreateMemberInput) (*Member, string, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := check(in); err != nil {
		return nil, "", err
	}

	var (
		out  models.Membership
		temp string
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		err := tx.Where("email = ?", in.Email).First(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			temp = rand.Text()
			hash, err := s.hash(temp)
			if err != nil {
				return err
			}
			user = models.User{Email: in.Email, Name: in.Name, PasswordHash: hash, MustChangePassword: true}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			var n int64
			if err := tx.Model(&models.Membership{}).Scopes(db.ForCompany(companyID)).
				Where("user_id = ?", user.ID).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return db.Conflict("%s is already a member of this company", in.Email)
			}
		}
		out = models.Membership{UserID: user.ID, CompanyID: companyID, Role: in.Role, Active: true, User: &user}
		return tx.Omit("User").Create(&out).Error
	})
	if err != nil {
		return nil, "", db.Wrap("create", "member", err)
	}
	m := memberOf(out)
	return &m, temp, nil
}

func (s *Service) membership(ctx context.Context, tx *gorm.DB, companyID, id string) (*models.Membership, error) {
	var m models.Membership
	err := tx.WithContext(ctx).Preload("User").Scopes(db.ForCompany(companyID)).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, db.NotFound("member", id)
	}
	if err != nil {
		return nil, db.Wrap("get", "member", err)
	}
	return &m, nil
}

// UpdateMember changes a member's role, active flag or display name.
func (s *Service) UpdateMember(ctx context.Context, companyID, id string, in UpdateMemberInput) (*Member, error) {
	if err := check(in); err != nil {
		return nil, err
	}
	var out *models.Membership
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.membership(ctx, tx, companyID, id)
		if err != nil {
			return err
		}
		updates := map[string]any{}
		if in.Role != nil {
			updates["role"] = *in.Role
		}
		if in.Active != nil {
			updates["active"] = *in.Active
		}
		if len(updates) > 0 {
			if err := tx.Model(m).Updates(updates).Error; err != nil {
				return err
			}
		}
		if in.Name != nil {
			if err := tx.Model(m.User).Update("name", *in.Name).Error; err != nil {
				return err
			}
		}
		out, err = s.membership(ctx, tx, companyID, id)
		return err
	})
	if err != nil {
		return nil, db.Wrap("update", "member", err)
	}
	m := memberOf(*out)
	return &m, nil
}

// ResetPassword gives a member a new temporary password and forces a
// change at next login.
func (s *Service) ResetPassword(ctx context.Context, companyID, id string) (string, error) {
	m, err := s.membership(ctx, s.DB, companyID, id)
	if err != nil {
		return "", err
	}
	temp := rand.Text()
	hash, err := s.hash(temp)
	if err != nil {
		return "", db.Wrap("reset password", "member", err)
	}
	err = s.DB.WithContext(ctx).Model(m.User).Updates(map[string]any{
		"password_hash":        hash,
		"must_change_password": true,
	}).Error
	if err != nil {
		return "", db.Wrap("reset password", "member", err)
	}
	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{"company_id": companyID, "user_id": m.UserID}).Info("password reset")
	}
	return temp, nil
}

// ChangePassword replaces a user's password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if len(next) < MinPasswordLength {
		return db.Validation("password must be at least %d characters", MinPasswordLength)
	}
	var u models.User
	if err := s.DB.WithContext(ctx).First(&u, "id = ?", userID).Error; err != nil {
		return db.Wrap("change password", "user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := s.hash(next)
	if err != nil {
		return db.Wrap("change password", "user", err)
	}
	err = s.DB.WithContext(ctx).Model(&u).Updates(map[string]any{
		"password_hash":        hash,
		"must_change_password": false,
	}).Error
	return db.Wrap("change password", "user", err)
}

// Session is the result of a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Member    *Member   `json:"member,omitempty"`
	Operator  *Operator `json:"operator,omitempty"`
}

// Login checks email and password and issues a member token for
// companyID, or for the user's first active membership when companyID is
// empty.
func (s *Service) Login(ctx context.Context, email, password, companyID string) (*Session, error) {
	var u models.User
	err := s.DB.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, db.Wrap("login", "user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	q := s.DB.WithContext(ctx).Where("user_id = ? AND active = ?", u.ID, true).Order("created_at")
	if companyID != "" {
		q = q.Where("company_id = ?", companyID)
	}
	var m models.Membership
	if err := q.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, db.Wrap("login", "member", err)
	}
	m.User = &u

	token, exp, err := s.Tokens.Issue(Principal{Subject: u.ID, CompanyID: m.CompanyID, Role: m.Role, Kind: KindMember}, MemberTokenTTL)
	if err != nil {
		return nil, err
	}
	member := memberOf(m)
	return &Session{Token: token, ExpiresAt: exp, Member: &member}, nil
}
