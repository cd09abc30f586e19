package models

// AIConfig selects the mapping provider a company uses for a feature.
type AIConfig struct {
	Model
	CompanyID string `gorm:"size:36;not null;uniqueIndex:idx_ai_configs_company_feature" json:"company_id"`
	Feature   string `gorm:"size:32;not null;uniqueIndex:idx_ai_configs_company_feature" json:"feature"`
	Provider  string `gorm:"size:32;not null" json:"provider"`
	ModelName string `gorm:"column:model;size:64" json:"model"`
}

// TableName matches the feature table name used by the API.
func (AIConfig) TableName() string { return "ai_configs" }
