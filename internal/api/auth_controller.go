package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tableside/server/internal/auth"
)

// AuthController выдача токенов сотрудникам.
// Учетные записи живут во внешней системе персонала, здесь только dev-выдача.
type AuthController struct {
	tokens *auth.Tokens
}

func NewAuthController(tokens *auth.Tokens) *AuthController {
	return &AuthController{tokens: tokens}
}

type IssueTokenRequest struct {
	StaffID string    `json:"staff_id" binding:"required"`
	Role    auth.Role `json:"role" binding:"required"`
}

type IssueTokenResponse struct {
	Token     string    `json:"token"`
	StaffID   string    `json:"staff_id"`
	Role      auth.Role `json:"role"`
	ExpiresAt int64     `json:"expires_at"`
}

// IssueToken POST /api/v1/auth/token (только вне production)
func (ac *AuthController) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !req.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation", "details": "unknown role " + string(req.Role)})
		return
	}

	token, expiresAt, err := ac.tokens.Issue(auth.Actor{ID: req.StaffID, Role: req.Role})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "details": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, IssueTokenResponse{
		Token:     token,
		StaffID:   req.StaffID,
		Role:      req.Role,
		ExpiresAt: expiresAt.Unix(),
	})
}

// Me GET /api/v1/auth/me
func (ac *AuthController) Me(c *gin.Context) {
	actor := actorFrom(c)
	c.JSON(http.StatusOK, gin.H{"staff_id": actor.ID, "role": actor.Role})
}
