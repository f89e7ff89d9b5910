package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ingestdomain "github.com/offsetsdb/offsetsdb/internal/ingest/domain"
)

// staleAfter is how old the newest successful file may be before a
// category is reported stale. The upstream pipeline produces daily.
const staleAfter = 48 * time.Hour

type categoryHealth struct {
	Category    ingestdomain.FileCategory `json:"category"`
	LastSuccess *time.Time                `json:"last_success,omitempty"`
	Stale       bool                      `json:"stale"`
}

// Health reports database reachability and the freshness of the latest
// successful update per category.
func (s *Server) Health(c *gin.Context) {
	ctx := c.Request.Context()

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "unreachable"})
		return
	}

	type row struct {
		Category    ingestdomain.FileCategory
		LastSuccess time.Time
	}
	var rows []row
	if err := s.db.WithContext(ctx).Raw(`
		SELECT category, MAX(recorded_at) AS last_success
		FROM files
		WHERE status = ?
		GROUP BY category`,
		ingestdomain.FileStatusSuccess,
	).Scan(&rows).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	latest := make(map[ingestdomain.FileCategory]time.Time, len(rows))
	for _, r := range rows {
		latest[r.Category] = r.LastSuccess
	}

	now := s.clk.Now()
	categories := []ingestdomain.FileCategory{
		ingestdomain.CategoryProjects,
		ingestdomain.CategoryCredits,
		ingestdomain.CategoryClips,
	}
	report := make([]categoryHealth, 0, len(categories))
	for _, category := range categories {
		entry := categoryHealth{Category: category, Stale: true}
		if ts, ok := latest[category]; ok {
			last := ts
			entry.LastSuccess = &last
			entry.Stale = now.Sub(ts) > staleAfter
		}
		report = append(report, entry)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "updates": report})
}
