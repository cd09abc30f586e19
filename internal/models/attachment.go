package models

// Attachment is a stored file linked to a domain entity.
type Attachment struct {
	Model
	CompanyID   string `gorm:"size:36;not null;index" json:"company_id"`
	EntityType  string `gorm:"size:32;not null;index:idx_attachments_entity" json:"entity_type"`
	EntityID    string `gorm:"size:36;not null;index:idx_attachments_entity" json:"entity_id"`
	FileName    string `gorm:"size:255;not null" json:"file_name"`
	Path        string `gorm:"size:512;not null;uniqueIndex" json:"path"`
	ContentType string `gorm:"size:128" json:"content_type"`
	Size        int64  `json:"size"`
}
