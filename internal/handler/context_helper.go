package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/gradekit/gradekit-api/internal/middleware"
)

func claimsFromContext(c *gin.Context) *middleware.Claims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*middleware.Claims)
	if !ok {
		return nil
	}
	return claims
}
