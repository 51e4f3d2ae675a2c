package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Headers inspected for an operator marker, in order.
var operatorHeaders = []string{
	"X-Operator-Token",
	"X-Admin-Token",
	"X-Command-Center-Operator",
}

// OperatorRequired gates operator-only endpoints. Any of the recognized
// headers carrying a configured marker grants access; everything else
// gets a 403.
func OperatorRequired(markers []string) gin.HandlerFunc {
	accepted := make(map[string]struct{}, len(markers))
	for _, m := range markers {
		if m != "" {
			accepted[m] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		for _, header := range operatorHeaders {
			value := c.GetHeader(header)
			if value == "" {
				continue
			}
			if _, ok := accepted[value]; ok {
				c.Set("operator", true)
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "operator access required"})
		c.Abort()
	}
}

func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, X-Operator-Token, X-Admin-Token, X-Command-Center-Operator")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
