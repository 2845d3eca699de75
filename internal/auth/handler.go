package auth

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/caelven/listend/pkg/response"
	"github.com/caelven/listend/pkg/utils"
)

// Handler handles operator login. There are no user accounts: listener
// sessions are anonymous, and the only credential is the operator password
// guarding the admin surface.
type Handler struct {
	passwordHash string
	jwt          *JWTService
	logger       *zap.Logger
}

// NewHandler creates the auth handler. passwordHash is the bcrypt hash of
// the operator password from config.
func NewHandler(passwordHash string, jwt *JWTService, logger *zap.Logger) *Handler {
	return &Handler{passwordHash: passwordHash, jwt: jwt, logger: logger}
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "password is required")
		return
	}
	if h.passwordHash == "" {
		response.ServiceUnavailable(c, "operator login is not configured")
		return
	}
	if !utils.CheckPassword(req.Password, h.passwordHash) {
		response.Unauthorized(c, "invalid credentials")
		return
	}
	token, err := h.jwt.Generate("admin")
	if err != nil {
		h.logger.Error("generate token", zap.Error(err))
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, gin.H{"token": token})
}
