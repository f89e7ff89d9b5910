package repository

import (
	"context"
	"strings"

	"github.com/offsetsdb/offsetsdb/internal/project/domain"
	"github.com/offsetsdb/offsetsdb/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, projectID string) (*domain.Project, error) {
	var p domain.Project
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM projects WHERE project_id = ?`,
		projectID,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ProjectID == "" {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListRequest) (domain.ListResponse, error) {
	stmt := db.WithContext(ctx).Model(&domain.Project{})

	if req.Registry != "" {
		stmt = stmt.Where("registry = ?", req.Registry)
	}
	if req.Country != "" {
		stmt = stmt.Where("country = ?", req.Country)
	}
	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}
	if req.Search != "" {
		like := "%" + strings.ToLower(req.Search) + "%"
		stmt = stmt.Where("LOWER(name) LIKE ? OR LOWER(project_id) LIKE ?", like, like)
	}

	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, err
		}
		stmt = stmt.Where("project_id > ?", cursor.ID)
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 100
	}

	var projects []domain.Project
	if err := stmt.Order("project_id ASC").Limit(limit + 1).Find(&projects).Error; err != nil {
		return domain.ListResponse{}, err
	}

	projects, pageInfo, err := pagination.BuildCursorPageInfo(projects, limit, func(p domain.Project) pagination.Cursor {
		return pagination.Cursor{ID: p.ProjectID}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	return domain.ListResponse{Projects: projects, PageInfo: pageInfo}, nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM projects`).Scan(&count).Error
	return count, err
}

func (r *repo) ExistingIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	// Chunked to keep parameter counts within driver limits.
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		var found []string
		err := db.WithContext(ctx).Raw(
			`SELECT project_id FROM projects WHERE project_id IN ?`,
			ids[start:end],
		).Scan(&found).Error
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}
