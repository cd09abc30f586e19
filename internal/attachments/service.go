package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/models"
	"gorm.io/gorm"
)

// sniffBytes is how much of an upload is read to detect its type.
const sniffBytes = 3072

const maxNameLength = 100

// entityTypes maps attachable entity types to their tables.
var entityTypes = map[string]any{
	"customers":       &models.Customer{},
	"inventory":       &models.InventoryItem{},
	"operation-types": &models.OperationType{},
	"quotes":          &models.Quote{},
	"routings":        &models.Routing{},
	"work-orders":     &models.WorkOrder{},
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename keeps the base name with unsafe runs replaced by "_".
func SanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.Trim(unsafeChars.ReplaceAllString(base, "_"), "._")
	if len(base) > maxNameLength {
		ext := path.Ext(base)
		if len(ext) > 10 {
			ext = ""
		}
		base = base[:maxNameLength-len(ext)] + ext
	}
	if base == "" {
		return "file"
	}
	return base
}

// BlobPath is {companyId}/{entityType}/{entityId}/{blobName}.
func BlobPath(companyID, entityType, entityID, blobName string) string {
	return strings.Join([]string{companyID, entityType, entityID, blobName}, "/")
}

// Service records attachments and their blobs.
type Service struct {
	DB    *gorm.DB
	Store Store
	TTL   time.Duration
	Log   *logrus.Entry
}

func (s *Service) checkEntity(ctx context.Context, companyID, entityType, entityID string) error {
	model, ok := entityTypes[entityType]
	if !ok {
		return db.Validation("attachments are not supported for %q", entityType)
	}
	var n int64
	if err := s.DB.WithContext(ctx).Model(model).Scopes(db.ForCompany(companyID)).
		Where("id = ?", entityID).Count(&n).Error; err != nil {
		return db.Wrap("get", entityType, err)
	}
	if n == 0 {
		return db.NotFound(strings.TrimSuffix(entityType, "s"), entityID)
	}
	return nil
}

// Upload stores r as filename on the entity.
func (s *Service) Upload(ctx context.Context, companyID, entityType, entityID, filename string, r io.Reader) (*models.Attachment, error) {
	if err := s.checkEntity(ctx, companyID, entityType, entityID); err != nil {
		return nil, err
	}
	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("attachments: read upload: %w", err)
	}
	head = head[:n]
	contentType := mimetype.Detect(head).String()

	name := SanitizeFilename(filename)
	p := BlobPath(companyID, entityType, entityID, uuid.NewString()+"_"+name)
	size, err := s.Store.Put(ctx, p, io.MultiReader(bytes.NewReader(head), r), contentType)
	if err != nil {
		return nil, err
	}

	a := models.Attachment{
		CompanyID:   companyID,
		EntityType:  entityType,
		EntityID:    entityID,
		FileName:    name,
		Path:        p,
		ContentType: contentType,
		Size:        size,
	}
	if err := s.DB.WithContext(ctx).Create(&a).Error; err != nil {
		if derr := s.Store.Delete(ctx, p); derr != nil && s.Log != nil {
			s.Log.WithError(derr).WithField("path", p).Warn("orphaned blob after failed insert")
		}
		return nil, db.Wrap("create", "attachment", err)
	}
	return &a, nil
}

// List returns an entity's attachments, newest first.
func (s *Service) List(ctx context.Context, companyID, entityType, entityID string) ([]models.Attachment, error) {
	var out []models.Attachment
	err := s.DB.WithContext(ctx).Scopes(db.ForCompany(companyID)).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at DESC").Find(&out).Error
	return out, db.Wrap("list", "attachment", err)
}

// Get returns one attachment.
func (s *Service) Get(ctx context.Context, companyID, id string) (*models.Attachment, error) {
	var a models.Attachment
	err := s.DB.WithContext(ctx).Scopes(db.ForCompany(companyID)).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, db.NotFound("attachment", id)
	}
	if err != nil {
		return nil, db.Wrap("get", "attachment", err)
	}
	return &a, nil
}

// DownloadURL signs a link to the attachment valid for ttl, or for the
// service default when ttl is zero.
func (s *Service) DownloadURL(ctx context.Context, companyID, id string, ttl time.Duration) (string, error) {
	a, err := s.Get(ctx, companyID, id)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = s.TTL
	}
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return s.Store.SignedURL(ctx, a.Path, ttl)
}

// Move re-parents an attachment to another entity of the same company.
func (s *Service) Move(ctx context.Context, companyID, id, entityType, entityID string) (*models.Attachment, error) {
	a, err := s.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkEntity(ctx, companyID, entityType, entityID); err != nil {
		return nil, err
	}
	to := BlobPath(companyID, entityType, entityID, path.Base(a.Path))
	if to == a.Path {
		return a, nil
	}
	if err := s.Store.Move(ctx, a.Path, to); err != nil {
		return nil, err
	}
	err = s.DB.WithContext(ctx).Model(a).Updates(map[string]any{
		"entity_type": entityType,
		"entity_id":   entityID,
		"path":        to,
	}).Error
	if err != nil {
		if merr := s.Store.Move(ctx, to, a.Path); merr != nil && s.Log != nil {
			s.Log.WithError(merr).WithField("path", to).Warn("blob left at new path after failed update")
		}
		return nil, db.Wrap("move", "attachment", err)
	}
	a.EntityType, a.EntityID, a.Path = entityType, entityID, to
	return a, nil
}

// Delete removes the blob and the record. A blob that is already gone is
// not an error.
func (s *Service) Delete(ctx context.Context, companyID, id string) error {
	a, err := s.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if err := s.Store.Delete(ctx, a.Path); err != nil && !errors.Is(err, ErrNotExist) {
		return err
	}
	return db.Wrap("delete", "attachment", s.DB.WithContext(ctx).Delete(a).Error)
}
