package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/platform/identity"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/response"
)

// ResponseCodeKey holds the envelope code of a rejected request for the access log.
const ResponseCodeKey = "response_code"

// AuthMiddleware resolves the caller from the bearer token and stores it in the request
// context. Requests without a valid token are rejected with code 40100.
func AuthMiddleware(resolver identity.Resolver, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := resolver.Resolve(c.Request)
		if err != nil {
			code := response.APIResponseCodeError
			if errors.Is(err, identity.ErrUnauthenticated) {
				code = response.APIResponseCodeUnauthorized
			}
			logctx.FromGin(c, base).Infow("request rejected", "reason", err.Error())
			c.Set(ResponseCodeKey, code)
			c.AbortWithStatusJSON(http.StatusOK, response.Errorf(code, ""))
			return
		}

		ctx := identity.WithCaller(c.Request.Context(), caller)
		ctx = logctx.WithCaller(ctx, caller.ID, string(caller.Role))
		reqLogger := logctx.FromGin(c, base).With("caller_id", caller.ID)
		c.Set("logger", reqLogger)
		c.Request = c.Request.WithContext(logctx.WithLogger(ctx, reqLogger))
		c.Next()
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !identity.FromContext(c.Request.Context()).IsAdmin() {
			c.Set(ResponseCodeKey, response.APIResponseCodeForbidden)
			c.AbortWithStatusJSON(http.StatusOK, response.Errorf(response.APIResponseCodeForbidden, ""))
			return
		}
		c.Next()
	}
}
