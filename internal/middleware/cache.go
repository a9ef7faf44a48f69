package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore keeps proxies and browsers from caching exam content and answers.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
