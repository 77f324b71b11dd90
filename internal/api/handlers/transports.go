package handlers

import (
	"net/http"
	"time"

	"atypik-backend/internal/services"
	"atypik-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

type TransportHandler struct {
	transportService *services.TransportService
	missionService   *services.MissionService
	loc              *time.Location
}

func NewTransportHandler(transportService *services.TransportService, missionService *services.MissionService, loc *time.Location) *TransportHandler {
	return &TransportHandler{
		transportService: transportService,
		missionService:   missionService,
		loc:              loc,
	}
}

// CreateTransport schedules a transport for the calling parent
func (h *TransportHandler) CreateTransport(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}
	var req services.CreateTransportRequest
	if !bindJSON(c, &req) {
		return
	}

	transport, err := h.transportService.Create(c.Request.Context(), actor, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Transport scheduled successfully", transport)
}

// GetTransports lists the caller's transports between the optional from and to dates
func (h *TransportHandler) GetTransports(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}
	from, ok := dateQuery(c, "from", h.loc)
	if !ok {
		return
	}
	to, ok := dateQuery(c, "to", h.loc)
	if !ok {
		return
	}

	transports, err := h.transportService.List(c.Request.Context(), actor, from, to)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Transports retrieved successfully", transports)
}

func (h *TransportHandler) GetTransport(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	transport, err := h.transportService.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Transport retrieved successfully", transport)
}

// CancelTransport cancels a transport dated today or later
func (h *TransportHandler) CancelTransport(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	transport, err := h.missionService.CancelTransport(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Transport cancelled successfully", transport)
}

func (h *TransportHandler) AddComment(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}
	var req services.CommentRequest
	if !bindJSON(c, &req) {
		return
	}

	comment, err := h.transportService.AddComment(c.Request.Context(), actor, c.Param("id"), &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Comment added successfully", comment)
}

// StartMission opens the mission of a transport for the calling driver
func (h *TransportHandler) StartMission(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	mission, err := h.missionService.StartMission(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Mission started successfully", mission)
}

// GetOpenMission returns the open mission of a transport, if any
func (h *TransportHandler) GetOpenMission(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	mission, err := h.missionService.OpenMissionForTransport(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Mission retrieved successfully", mission)
}
