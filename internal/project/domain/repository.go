package domain

import (
	"context"

	"github.com/offsetsdb/offsetsdb/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListRequest struct {
	Registry string
	Country  string
	Status   string
	Search   string

	pagination.Pagination
}

type ListResponse struct {
	Projects []Project            `json:"projects"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

// Repository is the read side of the live projects table.
type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, projectID string) (*Project, error)
	List(ctx context.Context, db *gorm.DB, req ListRequest) (ListResponse, error)
	Count(ctx context.Context, db *gorm.DB) (int64, error)
	ExistingIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]struct{}, error)
}
