package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trn-registry-api/internal/middleware"
	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.Claims(c)
}

// respond writes data with any metadata collected for the request.
func respond(c *gin.Context, status int, data interface{}) {
	response.JSON(c, status, data, nil, middleware.ExtractMeta(c))
}
