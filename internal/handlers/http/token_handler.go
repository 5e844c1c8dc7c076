package http

import (
	"net/http"
	"strings"

	"roomwatch/internal/core/services"
	"roomwatch/pkg/errors"
	"roomwatch/pkg/tracing"
	"roomwatch/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenMetrics counts token requests by result.
type TokenMetrics interface {
	RecordToken(result string)
}

type TokenHandler struct {
	tokens   services.TokenService
	mediaURL string
	metrics  TokenMetrics
	logger   *zap.SugaredLogger
}

func NewTokenHandler(tokens services.TokenService, mediaURL string, metrics TokenMetrics, logger *zap.SugaredLogger) *TokenHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &TokenHandler{
		tokens:   tokens,
		mediaURL: mediaURL,
		metrics:  metrics,
		logger:   logger,
	}
}

// SetupRoutes registers the token endpoint under its legacy and versioned
// paths. middlewares run before the handler, e.g. rate limiting.
func (h *TokenHandler) SetupRoutes(router gin.IRouter, middlewares ...gin.HandlerFunc) {
	handlers := append(append([]gin.HandlerFunc{}, middlewares...), h.GetToken)
	router.GET("/api/get-token", handlers...)
	router.GET("/api/v1/token", handlers...)
}

// GetToken issues a room access token for ?room=..&identity=..
func (h *TokenHandler) GetToken(c *gin.Context) {
	room := strings.TrimSpace(c.Query("room"))
	identity := strings.TrimSpace(c.Query("identity"))

	if room == "" || identity == "" {
		h.record("invalid")
		c.Error(errors.NewInvalidInputError("room and identity are required"))
		return
	}
	if err := validation.ValidateRoom(room); err != nil {
		h.record("invalid")
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateIdentity(identity); err != nil {
		h.record("invalid")
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	ctx, span := tracing.TraceTokenIssue(c.Request.Context(), room, identity)
	defer span.End()

	token, err := h.tokens.Issue(room, identity)
	if err != nil {
		tracing.RecordError(ctx, err)
		h.record("error")
		h.logger.Errorw("failed to issue token", "room", room, "identity", identity, "error", err)
		c.Error(errors.NewTokenSigningError(err))
		return
	}

	h.record("ok")
	h.logger.Infow("token issued", "room", room, "identity", identity)

	resp := gin.H{"token": token}
	if h.mediaURL != "" {
		resp["url"] = h.mediaURL
	}
	c.JSON(http.StatusOK, resp)
}

func (h *TokenHandler) record(result string) {
	if h.metrics != nil {
		h.metrics.RecordToken(result)
	}
}
