package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Project is a registry-issued offset project. Rows are created and
// replaced only by the ingestion pipeline; the API reads them.
type Project struct {
	ProjectID    string                     `json:"project_id" gorm:"column:project_id;primaryKey"`
	Registry     string                     `json:"registry" gorm:"type:text;not null"`
	Name         *string                    `json:"name,omitempty" gorm:"type:text"`
	Proponent    *string                    `json:"proponent,omitempty" gorm:"type:text"`
	Protocol     datatypes.JSONSlice[string] `json:"protocol,omitempty"`
	Category     datatypes.JSONSlice[string] `json:"category,omitempty"`
	Status       *string                    `json:"status,omitempty" gorm:"type:text"`
	Country      *string                    `json:"country,omitempty" gorm:"type:text"`
	ListedAt     *time.Time                 `json:"listed_at,omitempty"`
	IsCompliance *bool                      `json:"is_compliance,omitempty"`
	Retired      int64                      `json:"retired" gorm:"not null;default:0"`
	Issued       int64                      `json:"issued" gorm:"not null;default:0"`
	ProjectURL   *string                    `json:"project_url,omitempty" gorm:"type:text"`
	RecordedAt   time.Time                  `json:"recorded_at" gorm:"not null"`
}

func (Project) TableName() string { return "projects" }
