package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"atypik-backend/internal/services"
	"atypik-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

type MissionHandler struct {
	missionService  *services.MissionService
	trackingService *services.TrackingService
}

func NewMissionHandler(missionService *services.MissionService, trackingService *services.TrackingService) *MissionHandler {
	return &MissionHandler{
		missionService:  missionService,
		trackingService: trackingService,
	}
}

func (h *MissionHandler) GetMission(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	mission, err := h.missionService.GetMission(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Mission retrieved successfully", mission)
}

// CompleteMission closes an open mission
func (h *MissionHandler) CompleteMission(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	mission, err := h.missionService.CompleteMission(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Mission completed successfully", mission)
}

// GetDriverMissions lists the calling driver's open missions
func (h *MissionHandler) GetDriverMissions(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	missions, err := h.missionService.OpenMissionsForDriver(c.Request.Context(), actor)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Missions retrieved successfully", missions)
}

// GetHistory returns the recorded samples of a mission. limit caps the page.
func (h *MissionHandler) GetHistory(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	var limit int64
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid limit parameter", nil)
			return
		}
		limit = parsed
	}

	positions, err := h.trackingService.History(c.Request.Context(), actor, c.Param("id"), limit)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Position history retrieved successfully", positions)
}

// GetLivePosition returns the latest position of a mission
func (h *MissionHandler) GetLivePosition(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	position, err := h.trackingService.LivePosition(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Live position retrieved successfully", position)
}

// GetTrace returns the mission path as a GeoJSON feature
func (h *MissionHandler) GetTrace(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	feature, err := h.trackingService.Trace(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	body, err := json.Marshal(feature)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to encode trace", nil)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", body)
}
