package handlers

import (
	"net/http"

	"atypik-backend/internal/models"
	"atypik-backend/internal/services"
	"atypik-backend/internal/websocket"
	"atypik-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LiveHandler serves the mission change feed over websocket.
type LiveHandler struct {
	manager        *websocket.Manager
	missionService *services.MissionService
}

func NewLiveHandler(manager *websocket.Manager, missionService *services.MissionService) *LiveHandler {
	return &LiveHandler{
		manager:        manager,
		missionService: missionService,
	}
}

// WatchMission streams the updates of one mission to a viewer of it
func (h *LiveHandler) WatchMission(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	mission, err := h.missionService.GetMission(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	h.serve(c, actor, websocket.Filter{MissionIDs: []string{mission.ID.Hex()}})
}

// WatchAll streams every update the caller may see: a parent's own missions,
// a driver's missions, or everything for an admin.
func (h *LiveHandler) WatchAll(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	var filter websocket.Filter
	switch actor.Role {
	case models.RoleParent:
		filter.OwnerID = actor.UserID
	case models.RoleDriver:
		filter.DriverID = actor.UserID
	case models.RoleAdmin:
	default:
		utils.ErrorResponse(c, http.StatusForbidden, "Insufficient permissions", nil)
		return
	}
	if transportIDs := c.QueryArray("transportIds"); len(transportIDs) > 0 {
		filter.TransportIDs = transportIDs
	}

	h.serve(c, actor, filter)
}

func (h *LiveHandler) serve(c *gin.Context, actor models.Principal, filter websocket.Filter) {
	conn, err := h.manager.Upgrade(c.Writer, c.Request)
	if err != nil {
		logrus.WithError(err).Warn("Failed to upgrade live feed connection")
		return
	}

	log := logrus.WithFields(logrus.Fields{"user": actor.UserID, "filter": filter})
	log.Debug("Live feed client connected")
	if err := h.manager.Serve(conn, filter); err != nil {
		log.WithError(err).Debug("Live feed client disconnected")
	}
}

// GetFeedStats reports subscription counters
func (h *LiveHandler) GetFeedStats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Feed statistics retrieved successfully", h.manager.GetClientStats())
}
