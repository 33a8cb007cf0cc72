package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListPackages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.billingSvc.ListPackages(c.Request.Context())})
}

func (s *Server) GetPackage(c *gin.Context) {
	pkg, err := s.billingSvc.GetPackage(c.Request.Context(), c.Param("type"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": pkg})
}
