package repository

import (
	"context"
	"testing"
	"time"

	"github.com/offsetsdb/offsetsdb/internal/clip/domain"
	"github.com/stretchr/testify/require"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(`CREATE TABLE clips (
		id BIGINT PRIMARY KEY,
		date TIMESTAMP,
		title TEXT,
		url TEXT,
		source TEXT,
		tags TEXT,
		notes TEXT,
		type TEXT NOT NULL DEFAULT 'unknown',
		recorded_at TIMESTAMP NOT NULL
	)`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE clip_projects (
		id BIGINT PRIMARY KEY,
		clip_id BIGINT NOT NULL,
		project_id TEXT NOT NULL
	)`).Error)

	return db
}

func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	now := time.Now().UTC()

	require.NoError(t, db.Exec(
		`INSERT INTO clips (id, title, type, recorded_at) VALUES
		 (1, 'Forest story', 'article', ?),
		 (2, 'Registry note', 'press-release', ?),
		 (3, 'Another forest story', 'article', ?)`,
		now, now, now,
	).Error)
	require.NoError(t, db.Exec(
		`INSERT INTO clip_projects (id, clip_id, project_id) VALUES
		 (1, 1, 'VCS1'),
		 (2, 1, 'ACR2'),
		 (3, 2, 'ACR2'),
		 (4, 3, 'VCS1')`,
	).Error)
}

func TestListJoinsProjectIDs(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	seed(t, db)

	resp, err := repo.List(context.Background(), db, domain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Clips, 3)
	require.Equal(t, []string{"ACR2", "VCS1"}, resp.Clips[0].ProjectIDs)
}

func TestListFiltersByProject(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	seed(t, db)

	resp, err := repo.List(context.Background(), db, domain.ListRequest{ProjectID: "VCS1"})
	require.NoError(t, err)
	require.Len(t, resp.Clips, 2)

	resp, err = repo.List(context.Background(), db, domain.ListRequest{ProjectID: "VCS1", Type: "article"})
	require.NoError(t, err)
	require.Len(t, resp.Clips, 2)

	resp, err = repo.List(context.Background(), db, domain.ListRequest{ProjectID: "ACR2", Type: "press-release"})
	require.NoError(t, err)
	require.Len(t, resp.Clips, 1)
	require.EqualValues(t, 2, resp.Clips[0].ID)
}
