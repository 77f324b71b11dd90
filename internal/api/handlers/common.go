package handlers

import (
	"net/http"
	"time"

	"atypik-backend/internal/api/middleware"
	"atypik-backend/internal/models"
	"atypik-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// principal returns the authenticated caller or writes a 401.
func principal(c *gin.Context) (models.Principal, bool) {
	p, ok := middleware.Principal(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, "User not authenticated", nil)
	}
	return p, ok
}

// bindJSON decodes the body into req or writes a 400.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return false
	}
	return true
}

// dateQuery parses an optional YYYY-MM-DD query parameter in loc. A missing
// parameter yields the zero time.
func dateQuery(c *gin.Context, name string, loc *time.Location) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid "+name+" parameter, expected YYYY-MM-DD", nil)
		return time.Time{}, false
	}
	return t, true
}
