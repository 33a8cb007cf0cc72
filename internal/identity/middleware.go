package identity

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/orderbilling/internal/observability/context"
)

const contextIdentityKey = "identity"

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// Authenticate resolves the bearer token and stores the caller on the request.
func Authenticate(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abort(c, ErrUnauthorized)
			return
		}

		id, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			abort(c, err)
			return
		}

		ctx := WithIdentity(c.Request.Context(), id)
		ctx = obscontext.WithActor(ctx, "user", id.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextIdentityKey, id)
		c.Next()
	}
}

// RequireRole must run after Authenticate.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := Current(c)
		if !ok {
			abort(c, ErrUnauthorized)
			return
		}
		if !id.HasRole(roles...) {
			abort(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func Current(c *gin.Context) (Identity, bool) {
	if v, ok := c.Get(contextIdentityKey); ok {
		if id, ok := v.(Identity); ok {
			return id, true
		}
	}
	return FromContext(c.Request.Context())
}

func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
