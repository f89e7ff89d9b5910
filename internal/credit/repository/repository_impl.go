package repository

import (
	"context"
	"strconv"

	"github.com/offsetsdb/offsetsdb/internal/credit/domain"
	"github.com/offsetsdb/offsetsdb/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListRequest) (domain.ListResponse, error) {
	stmt := db.WithContext(ctx).Model(&domain.Credit{})

	if req.ProjectID != "" {
		stmt = stmt.Where("project_id = ?", req.ProjectID)
	}
	if req.Vintage != 0 {
		stmt = stmt.Where("vintage = ?", req.Vintage)
	}
	if req.TransactionType != "" {
		stmt = stmt.Where("transaction_type = ?", req.TransactionType)
	}

	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, err
		}
		id, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return domain.ListResponse{}, err
		}
		stmt = stmt.Where("id > ?", id)
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 100
	}

	var credits []domain.Credit
	if err := stmt.Order("id ASC").Limit(limit + 1).Find(&credits).Error; err != nil {
		return domain.ListResponse{}, err
	}

	credits, pageInfo, err := pagination.BuildCursorPageInfo(credits, limit, func(c domain.Credit) pagination.Cursor {
		return pagination.Cursor{ID: strconv.FormatInt(c.ID, 10)}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	return domain.ListResponse{Credits: credits, PageInfo: pageInfo}, nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM credits`).Scan(&count).Error
	return count, err
}

func (r *repo) OrphanProjectIDs(ctx context.Context, db *gorm.DB, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT c.project_id
		 FROM credits c
		 LEFT JOIN projects p ON p.project_id = c.project_id
		 WHERE p.project_id IS NULL
		 LIMIT ?`,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
