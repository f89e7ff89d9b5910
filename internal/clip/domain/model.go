package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Clip is a publication (news article, report) attributed to one or
// more projects.
type Clip struct {
	ID         int64                       `json:"id" gorm:"primaryKey"`
	Date       *time.Time                  `json:"date,omitempty"`
	Title      *string                     `json:"title,omitempty" gorm:"type:text"`
	URL        *string                     `json:"url,omitempty" gorm:"type:text"`
	Source     *string                     `json:"source,omitempty" gorm:"type:text"`
	Tags       datatypes.JSONSlice[string] `json:"tags,omitempty"`
	Notes      *string                     `json:"notes,omitempty" gorm:"type:text"`
	Type       string                      `json:"type" gorm:"type:text;not null;default:unknown"`
	RecordedAt time.Time                   `json:"recorded_at" gorm:"not null"`
}

func (Clip) TableName() string { return "clips" }

// ClipProject links a clip to a project.
type ClipProject struct {
	ID        int64  `json:"id" gorm:"primaryKey"`
	ClipID    int64  `json:"clip_id" gorm:"not null;index"`
	ProjectID string `json:"project_id" gorm:"type:text;not null;index"`
}

func (ClipProject) TableName() string { return "clip_projects" }

// ClipWithProjects is the read-side shape joining a clip to its
// project ids.
type ClipWithProjects struct {
	Clip
	ProjectIDs []string `json:"project_ids"`
}
