package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/jigged/internal/attachments"
	"github.com/zulandar/jigged/internal/authz"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/models"
	"gorm.io/gorm"
)

// maxUploadBytes bounds multipart attachment uploads.
const maxUploadBytes = 50 << 20

type moveRequest struct {
	EntityType string `json:"entity_type" binding:"required"`
	EntityID   string `json:"entity_id" binding:"required"`
}

func registerAttachments(api *gin.RouterGroup, svc *attachments.Service, az *authz.Authorizer) {
	read, write := az.Require(authz.Attachments, authz.Read), az.Require(authz.Attachments, authz.Write)
	g := api.Group("/attachments")

	g.GET("", read, func(c *gin.Context) {
		list, err := svc.List(c.Request.Context(), company(c), c.Query("entity_type"), c.Query("entity_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if list == nil {
			list = []models.Attachment{}
		}
		c.JSON(http.StatusOK, list)
	})

	g.POST("", write, func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
		fh, err := c.FormFile("file")
		if err != nil {
			respondError(c, db.Validation("file is required"))
			return
		}
		a, err := upload(c, svc, fh)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, a)
	})

	g.GET("/:id", read, func(c *gin.Context) {
		a, err := svc.Get(c.Request.Context(), company(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	})

	g.GET("/:id/url", read, func(c *gin.Context) {
		var ttl time.Duration
		if raw := c.Query("ttl"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				respondError(c, db.Validation("ttl must be a positive duration"))
				return
			}
			ttl = d
		}
		u, err := svc.DownloadURL(c.Request.Context(), company(c), c.Param("id"), ttl)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": u})
	})

	g.PATCH("/:id", write, func(c *gin.Context) {
		var req moveRequest
		if !bind(c, &req) {
			return
		}
		a, err := svc.Move(c.Request.Context(), company(c), c.Param("id"), req.EntityType, req.EntityID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	})

	g.DELETE("/:id", write, func(c *gin.Context) {
		if err := svc.Delete(c.Request.Context(), company(c), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func upload(c *gin.Context, svc *attachments.Service, fh *multipart.FileHeader) (*models.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("api: open upload: %w", err)
	}
	defer f.Close()
	return svc.Upload(c.Request.Context(), company(c), c.PostForm("entity_type"), c.PostForm("entity_id"), fh.Filename, f)
}

// handleFile streams a locally stored blob to holders of a signed link.
func handleFile(gdb *gorm.DB, store *attachments.LocalStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := strings.TrimPrefix(c.Param("path"), "/")
		if err := store.Verify(p, c.Query("token")); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid or expired link", "kind": db.KindPermission.String()})
			return
		}
		var a models.Attachment
		err := gdb.WithContext(c.Request.Context()).Where("path = ?", p).First(&a).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, db.NotFound("file", p))
			return
		}
		if err != nil {
			respondError(c, db.Wrap("get", "attachment", err))
			return
		}
		rc, err := store.Open(c.Request.Context(), p)
		if err != nil {
			respondError(c, err)
			return
		}
		defer rc.Close()
		c.DataFromReader(http.StatusOK, a.Size, a.ContentType, rc, map[string]string{
			"Content-Disposition": fmt.Sprintf("attachment; filename=%q", a.FileName),
		})
	}
}
