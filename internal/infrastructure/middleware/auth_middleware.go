package middleware

import (
	"errors"
	"strings"

	"roomwatch/internal/core/services"
	apperrors "roomwatch/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ClaimsKey is the gin context key holding the verified *services.Claims.
const ClaimsKey = "room_claims"

// RoomTokenMiddleware accepts requests carrying a bearer token issued for the
// :room and :identity path parameters.
func RoomTokenMiddleware(tokens services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			abortWithError(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := tokens.Validate(strings.TrimSpace(token))
		if err != nil {
			message := "invalid token"
			if errors.Is(err, services.ErrExpiredToken) {
				message = "token expired"
			}
			abortWithError(c, apperrors.NewUnauthorizedError(message))
			return
		}

		if room := c.Param("room"); room != "" && claims.Room() != room {
			abortWithError(c, apperrors.NewForbiddenError("token is not valid for this room"))
			return
		}
		if identity := c.Param("identity"); identity != "" && claims.Identity() != identity {
			abortWithError(c, apperrors.NewForbiddenError("token is not valid for this participant"))
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// abortWithError writes the error body itself so the middleware also works
// without ErrorHandlerMiddleware installed.
func abortWithError(c *gin.Context, err *apperrors.AppError) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(err.HTTPStatus, gin.H{
		"error":   string(err.Code),
		"message": err.Message,
	})
}
