package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/orderbilling/internal/identity"
	obsmiddleware "github.com/smallbiznis/orderbilling/internal/observability/logger"
	"github.com/smallbiznis/orderbilling/internal/ratelimit"
)

const endpointOrderCreate = "orders.create"

func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", obsmiddleware.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", obsmiddleware.RequestIDHeader, "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// OrderCreateRateLimit keys the order creation limit on the authenticated user.
func (s *Server) OrderCreateRateLimit() gin.HandlerFunc {
	return ratelimit.Middleware(s.limiter, endpointOrderCreate, func(c *gin.Context) string {
		id, ok := identity.Current(c)
		if !ok {
			return ""
		}
		return id.UserID.String()
	}, s.obsMetrics)
}

func currentUser(c *gin.Context) (identity.Identity, bool) {
	id, ok := identity.Current(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return identity.Identity{}, false
	}
	return id, true
}
