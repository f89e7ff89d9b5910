package repository

import (
	"context"
	"testing"
	"time"

	"github.com/offsetsdb/offsetsdb/internal/credit/domain"
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

	require.NoError(t, db.Exec(`CREATE TABLE projects (
		project_id TEXT PRIMARY KEY,
		registry TEXT NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	)`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE credits (
		id BIGINT PRIMARY KEY,
		project_id TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		vintage INTEGER,
		transaction_date TIMESTAMP,
		transaction_type TEXT NOT NULL,
		retirement_beneficiary TEXT,
		recorded_at TIMESTAMP NOT NULL
	)`).Error)

	return db
}

func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	now := time.Now().UTC()

	require.NoError(t, db.Exec(
		`INSERT INTO projects (project_id, registry, recorded_at) VALUES ('VCS1', 'verra', ?)`, now,
	).Error)

	for i := 1; i <= 6; i++ {
		txType := "issuance"
		if i%2 == 0 {
			txType = "retirement"
		}
		projectID := "VCS1"
		if i == 6 {
			projectID = "GONE9"
		}
		require.NoError(t, db.Exec(
			`INSERT INTO credits (id, project_id, quantity, vintage, transaction_type, recorded_at)
			 VALUES (?, ?, ?, 2020, ?, ?)`,
			i, projectID, i*10, txType, now,
		).Error)
	}
}

func TestListFilters(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	seed(t, db)

	resp, err := repo.List(context.Background(), db, domain.ListRequest{TransactionType: "retirement"})
	require.NoError(t, err)
	require.Len(t, resp.Credits, 3)
	for _, c := range resp.Credits {
		require.Equal(t, domain.TransactionRetirement, c.TransactionType)
	}

	resp, err = repo.List(context.Background(), db, domain.ListRequest{ProjectID: "GONE9"})
	require.NoError(t, err)
	require.Len(t, resp.Credits, 1)
}

func TestListPaginates(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	seed(t, db)

	req := domain.ListRequest{}
	req.PageSize = 4
	first, err := repo.List(context.Background(), db, req)
	require.NoError(t, err)
	require.Len(t, first.Credits, 4)
	require.True(t, first.PageInfo.HasMore)

	req.PageToken = first.PageInfo.NextPageToken
	second, err := repo.List(context.Background(), db, req)
	require.NoError(t, err)
	require.Len(t, second.Credits, 2)
	require.False(t, second.PageInfo.HasMore)
	require.Greater(t, second.Credits[0].ID, first.Credits[3].ID)
}

func TestOrphanProjectIDs(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	seed(t, db)

	orphans, err := repo.OrphanProjectIDs(context.Background(), db, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"GONE9"}, orphans)
}

func TestCount(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	seed(t, db)

	count, err := repo.Count(context.Background(), db)
	require.NoError(t, err)
	require.EqualValues(t, 6, count)
}
