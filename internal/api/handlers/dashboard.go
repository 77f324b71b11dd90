package handlers

import (
	"net/http"
	"time"

	"atypik-backend/internal/models"
	"atypik-backend/internal/services"
	"atypik-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

type DashboardHandler struct {
	tripService *services.TripService
	loc         *time.Location
}

func NewDashboardHandler(tripService *services.TripService, loc *time.Location) *DashboardHandler {
	return &DashboardHandler{tripService: tripService, loc: loc}
}

// parentID is the caller for parents. Admins may look at any parent through
// the parentId query parameter.
func parentID(c *gin.Context, actor models.Principal) string {
	if actor.IsAdmin() {
		if id := c.Query("parentId"); id != "" {
			return id
		}
	}
	return actor.UserID
}

// GetUpcomingTrips returns the consolidated next trips of a parent
func (h *DashboardHandler) GetUpcomingTrips(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	trips, err := h.tripService.UpcomingTrips(c.Request.Context(), actor, parentID(c, actor))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Upcoming trips retrieved successfully", trips)
}

func (h *DashboardHandler) GetStats(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	stats, err := h.tripService.ParentStats(c.Request.Context(), actor, parentID(c, actor))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Statistics retrieved successfully", stats)
}

// GetWeeklySchedule returns the week containing the optional date parameter
func (h *DashboardHandler) GetWeeklySchedule(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}
	ref, ok := dateQuery(c, "date", h.loc)
	if !ok {
		return
	}

	days, err := h.tripService.WeeklySchedule(c.Request.Context(), actor, parentID(c, actor), ref)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Weekly schedule retrieved successfully", days)
}

// GetDriverToday returns the calling driver's transports for today
func (h *DashboardHandler) GetDriverToday(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	transports, err := h.tripService.DriverToday(c.Request.Context(), actor)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Today's transports retrieved successfully", transports)
}
