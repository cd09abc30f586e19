package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/jigged/internal/accounts"
	"github.com/zulandar/jigged/internal/authz"
	"github.com/zulandar/jigged/internal/db"
)

const principalKey = "jig.principal"

// authenticate requires a bearer token and stores the caller's principal,
// company id and role on the context.
func authenticate(tokens *accounts.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
				"kind":  kindUnauthenticated,
			})
			return
		}
		p, err := tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			respondError(c, err)
			return
		}
		c.Set(principalKey, p)
		c.Set("company_id", p.CompanyID)
		c.Set(authz.RoleKey, p.Role)
		c.Next()
	}
}

func principal(c *gin.Context) *accounts.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*accounts.Principal); ok {
			return p
		}
	}
	return &accounts.Principal{}
}

func company(c *gin.Context) string { return c.GetString("company_id") }

type loginRequest struct {
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
	CompanyID string `json:"company_id"`
}

func handleLogin(svc *accounts.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if !bind(c, &req) {
			return
		}
		sess, err := svc.Login(c.Request.Context(), req.Email, req.Password, req.CompanyID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

func handleChangePassword(svc *accounts.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		if p.Kind != accounts.KindMember {
			respondError(c, db.PermissionDenied("change password"))
			return
		}
		var req passwordRequest
		if !bind(c, &req) {
			return
		}
		if err := svc.ChangePassword(c.Request.Context(), p.Subject, req.CurrentPassword, req.NewPassword); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type operatorLoginRequest struct {
	CompanyID string `json:"company_id" binding:"required"`
	Pin       string `json:"pin"`
	QRCodeID  string `json:"qr_code_id"`
}

func handleOperatorLogin(svc *accounts.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req operatorLoginRequest
		if !bind(c, &req) {
			return
		}
		sess, err := svc.OperatorLogin(c.Request.Context(), req.CompanyID, req.Pin, req.QRCodeID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}
