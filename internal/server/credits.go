package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/offsetsdb/offsetsdb/internal/credit/domain"
)

func (s *Server) ListCredits(c *gin.Context) {
	req := creditdomain.ListRequest{
		ProjectID:       strings.TrimSpace(c.Query("project_id")),
		TransactionType: strings.TrimSpace(c.Query("transaction_type")),
	}
	if raw := strings.TrimSpace(c.Query("vintage")); raw != "" {
		vintage, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.Vintage = vintage
	}
	if err := c.ShouldBindQuery(&req.Pagination); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.creditRepo.List(c.Request.Context(), s.db, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Credits, "page_info": resp.PageInfo})
}
