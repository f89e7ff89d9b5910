package domain

import (
	"context"

	"github.com/offsetsdb/offsetsdb/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListRequest struct {
	ProjectID string
	Type      string

	pagination.Pagination
}

type ListResponse struct {
	Clips    []ClipWithProjects   `json:"clips"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

type Repository interface {
	List(ctx context.Context, db *gorm.DB, req ListRequest) (ListResponse, error)
	Count(ctx context.Context, db *gorm.DB) (int64, error)
}
