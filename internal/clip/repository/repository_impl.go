package repository

import (
	"context"
	"strconv"

	"github.com/offsetsdb/offsetsdb/internal/clip/domain"
	"github.com/offsetsdb/offsetsdb/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListRequest) (domain.ListResponse, error) {
	stmt := db.WithContext(ctx).Model(&domain.Clip{})

	if req.ProjectID != "" {
		stmt = stmt.Where(
			"id IN (SELECT clip_id FROM clip_projects WHERE project_id = ?)",
			req.ProjectID,
		)
	}
	if req.Type != "" {
		stmt = stmt.Where("type = ?", req.Type)
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

	var clips []domain.Clip
	if err := stmt.Order("id ASC").Limit(limit + 1).Find(&clips).Error; err != nil {
		return domain.ListResponse{}, err
	}

	clips, pageInfo, err := pagination.BuildCursorPageInfo(clips, limit, func(c domain.Clip) pagination.Cursor {
		return pagination.Cursor{ID: strconv.FormatInt(c.ID, 10)}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	out := make([]domain.ClipWithProjects, 0, len(clips))
	for _, c := range clips {
		var projectIDs []string
		err := db.WithContext(ctx).Raw(
			`SELECT project_id FROM clip_projects WHERE clip_id = ? ORDER BY project_id`,
			c.ID,
		).Scan(&projectIDs).Error
		if err != nil {
			return domain.ListResponse{}, err
		}
		out = append(out, domain.ClipWithProjects{Clip: c, ProjectIDs: projectIDs})
	}

	return domain.ListResponse{Clips: out, PageInfo: pageInfo}, nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM clips`).Scan(&count).Error
	return count, err
}
