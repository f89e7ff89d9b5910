package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	clipdomain "github.com/offsetsdb/offsetsdb/internal/clip/domain"
)

func (s *Server) ListClips(c *gin.Context) {
	req := clipdomain.ListRequest{
		ProjectID: strings.TrimSpace(c.Query("project_id")),
		Type:      strings.TrimSpace(c.Query("type")),
	}
	if err := c.ShouldBindQuery(&req.Pagination); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.clipRepo.List(c.Request.Context(), s.db, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Clips, "page_info": resp.PageInfo})
}
