package domain

import (
	"context"

	"github.com/offsetsdb/offsetsdb/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListRequest struct {
	ProjectID       string
	Vintage         int
	TransactionType string

	pagination.Pagination
}

type ListResponse struct {
	Credits  []Credit             `json:"credits"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

type Repository interface {
	List(ctx context.Context, db *gorm.DB, req ListRequest) (ListResponse, error)
	Count(ctx context.Context, db *gorm.DB) (int64, error)
	// OrphanProjectIDs returns credit project references with no
	// matching project row. Empty after every successful run.
	OrphanProjectIDs(ctx context.Context, db *gorm.DB, limit int) ([]string, error)
}
