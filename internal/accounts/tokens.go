package accounts

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/zulandar/jigged/internal/config"
)

// Token lifetimes.
const (
	MemberTokenTTL   = 12 * time.Hour
	OperatorTokenTTL = 8 * time.Hour
)

// Principal kinds.
const (
	KindMember   = "member"
	KindOperator = "operator"
)

// ErrInvalidToken is returned for malformed, expired or forged tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject   string `json:"sub"`
	CompanyID string `json:"company_id"`
	Role      string `json:"role"`
	Kind      string `json:"kind"`
}

type claims struct {
	jwt.RegisteredClaims
	CompanyID string `json:"company_id"`
	Role      string `json:"role,omitempty"`
	Kind      string `json:"kind"`
}

// Tokens issues and verifies HS256 bearer tokens.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

// NewTokens returns an issuer for secret, which must be at least
// config.MinJWTSecretLength bytes.
func NewTokens(secret string) (*Tokens, error) {
	if len(secret) < config.MinJWTSecretLength {
		return nil, fmt.Errorf("accounts: token secret must be at least %d characters", config.MinJWTSecretLength)
	}
	return &Tokens{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for p valid for ttl.
func (t *Tokens) Issue(p Principal, ttl time.Duration) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		CompanyID: p.CompanyID,
		Role:      p.Role,
		Kind:      p.Kind,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("accounts: sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies token and returns its principal.
func (t *Tokens) Parse(token string) (*Principal, error) {
	var c claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return t.secret, nil })
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" || c.CompanyID == "" {
		return nil, ErrInvalidToken
	}
	return &Principal{Subject: c.Subject, CompanyID: c.CompanyID, Role: c.Role, Kind: c.Kind}, nil
}
