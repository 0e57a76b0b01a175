package middleware

import (
	"github.com/commercebridge/taxcore/internal/types"
	"github.com/gin-gonic/gin"
)

func RequestIDMiddleware(c *gin.Context) {
	ctx := c.Request.Context()

	requestID := c.GetHeader(types.HeaderRequestID)
	if requestID == "" {
		requestID = types.GenerateUUID()
	}

	ctx = types.SetRequestID(ctx, requestID)
	c.Request = c.Request.WithContext(ctx)

	// Add headers for response
	c.Header(types.HeaderRequestID, requestID)

	c.Next()
}

// TenantMiddleware resolves the tenant and acting user from request headers.
// Requests without headers fall back to the default tenant so local setups
// work without any identity provider.
func TenantMiddleware(c *gin.Context) {
	ctx := c.Request.Context()

	tenantID := c.GetHeader(types.HeaderTenantID)
	if tenantID == "" {
		tenantID = types.DefaultTenantID
	}

	userID := c.GetHeader(types.HeaderUserID)
	if userID == "" {
		userID = types.DefaultUserID
	}

	ctx = types.SetTenantID(ctx, tenantID)
	ctx = types.SetUserID(ctx, userID)
	c.Request = c.Request.WithContext(ctx)

	c.Next()
}
