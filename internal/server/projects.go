package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	projectdomain "github.com/offsetsdb/offsetsdb/internal/project/domain"
)

func (s *Server) ListProjects(c *gin.Context) {
	req := projectdomain.ListRequest{
		Registry: strings.TrimSpace(c.Query("registry")),
		Country:  strings.TrimSpace(c.Query("country")),
		Status:   strings.TrimSpace(c.Query("status")),
		Search:   strings.TrimSpace(c.Query("search")),
	}
	if err := c.ShouldBindQuery(&req.Pagination); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.projectRepo.List(c.Request.Context(), s.db, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Projects, "page_info": resp.PageInfo})
}

func (s *Server) GetProject(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("project_id"))
	if projectID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	project, err := s.projectRepo.FindByID(c.Request.Context(), s.db, projectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if project == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": project})
}
