package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ingestdomain "github.com/offsetsdb/offsetsdb/internal/ingest/domain"
	"github.com/offsetsdb/offsetsdb/internal/ingest/runner"
	"go.uber.org/zap"
)

type submitFileRequest struct {
	URL      string `json:"url" binding:"required"`
	Category string `json:"category" binding:"required"`
	Checksum string `json:"checksum"`
	ByteSize int64  `json:"byte_size"`
	RowCount int64  `json:"row_count"`
}

type submitFilesRequest struct {
	Files  []submitFileRequest `json:"files" binding:"required,min=1"`
	DryRun bool                `json:"dry_run"`
}

// SubmitFiles records audit rows for the submitted files and starts an
// ingestion run over them in the background. The response returns the
// pending audit rows; callers poll GET /files for the outcome.
func (s *Server) SubmitFiles(c *gin.Context) {
	if s.runner == nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req submitFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	now := s.clk.Now()
	files := make([]ingestdomain.File, 0, len(req.Files))
	entries := make([]ingestdomain.Entry, 0, len(req.Files))
	for _, f := range req.Files {
		category := ingestdomain.ParseCategory(f.Category)
		if category == ingestdomain.CategoryUnknown {
			AbortWithError(c, ErrInvalidRequest)
			return
		}

		file := ingestdomain.File{
			ID:         s.genID.Generate(),
			URL:        strings.TrimSpace(f.URL),
			Category:   category,
			Status:     ingestdomain.FileStatusPending,
			RecordedAt: now,
		}
		if f.Checksum != "" {
			checksum := f.Checksum
			file.Checksum = &checksum
		}
		if f.ByteSize > 0 {
			size := f.ByteSize
			file.ByteSize = &size
		}
		files = append(files, file)

		entries = append(entries, ingestdomain.Entry{
			URL:      file.URL,
			Category: category,
			Checksum: f.Checksum,
			ByteSize: f.ByteSize,
			RowCount: f.RowCount,
			FileID:   int64(file.ID),
		})
	}

	if err := s.db.WithContext(c.Request.Context()).Create(&files).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	go s.startRun(runner.Request{Entries: entries, DryRun: req.DryRun})

	c.JSON(http.StatusAccepted, gin.H{"data": files})
}

// startRun executes one submitted run detached from the request. The
// runner's own timeout bounds it; failures land in the run record, the
// file audit rows and the notification channel.
func (s *Server) startRun(req runner.Request) {
	if _, err := s.runner.Execute(context.Background(), req); err != nil {
		s.log.Error("submitted run failed", zap.Error(err))
	}
}

func (s *Server) ListFiles(c *gin.Context) {
	query := s.db.WithContext(c.Request.Context()).Model(&ingestdomain.File{})
	if category := strings.TrimSpace(c.Query("category")); category != "" {
		query = query.Where("category = ?", category)
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query = query.Where("status = ?", status)
	}

	var files []ingestdomain.File
	if err := query.Order("recorded_at DESC, id DESC").Limit(200).Find(&files).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": files})
}

func (s *Server) GetFile(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var file ingestdomain.File
	if err := s.db.WithContext(c.Request.Context()).
		Where("id = ?", id).
		First(&file).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": file})
}
