package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/jigged/internal/accounts"
	"github.com/zulandar/jigged/internal/attachments"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/importer"
	"github.com/zulandar/jigged/internal/logging"
)

const (
	kindUnauthenticated = "unauthenticated"
	kindRateLimited     = "rate_limited"
)

// statusOf maps an error to its HTTP status and kind name.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, importer.ErrRateLimited):
		return http.StatusTooManyRequests, kindRateLimited
	case errors.Is(err, accounts.ErrInvalidCredentials), errors.Is(err, accounts.ErrInvalidToken):
		return http.StatusUnauthorized, kindUnauthenticated
	case errors.Is(err, attachments.ErrNotExist):
		return http.StatusNotFound, db.KindNotFound.String()
	}
	kind := db.KindOf(err)
	switch kind {
	case db.KindValidation:
		return http.StatusBadRequest, kind.String()
	case db.KindPermission:
		return http.StatusForbidden, kind.String()
	case db.KindNotFound:
		return http.StatusNotFound, kind.String()
	case db.KindConflict, db.KindDuplicate, db.KindConstraint:
		return http.StatusConflict, kind.String()
	case db.KindTransport:
		return http.StatusBadGateway, kind.String()
	}
	return http.StatusInternalServerError, kind.String()
}

// respondError writes {"error", "kind"} for err and aborts the request.
// Unclassified failures are logged and answered with a generic message.
func respondError(c *gin.Context, err error) {
	status, kind := statusOf(err)
	msg := db.UserMessage(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(c).WithError(err).Error("request failed")
		if status == http.StatusInternalServerError {
			msg = "Internal server error"
		}
	}
	c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "kind": kind})
}

// bind decodes the JSON body into v, answering 400 on failure.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, db.Validation("invalid request body: %v", err))
		return false
	}
	return true
}
