package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ingestdomain "github.com/offsetsdb/offsetsdb/internal/ingest/domain"
)

func (s *Server) ListRuns(c *gin.Context) {
	query := s.db.WithContext(c.Request.Context()).Model(&ingestdomain.Run{})
	if environment := strings.TrimSpace(c.Query("environment")); environment != "" {
		query = query.Where("environment = ?", environment)
	}
	if outcome := strings.TrimSpace(c.Query("outcome")); outcome != "" {
		query = query.Where("outcome = ?", outcome)
	}

	var runs []ingestdomain.Run
	if err := query.Order("started_at DESC, id DESC").Limit(100).Find(&runs).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": runs})
}

func (s *Server) GetRun(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var run ingestdomain.Run
	if err := s.db.WithContext(c.Request.Context()).
		Where("id = ?", id).
		First(&run).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": run})
}
