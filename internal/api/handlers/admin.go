package handlers

import (
	"net/http"

	"atypik-backend/internal/models"
	"atypik-backend/internal/services"
	"atypik-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	adminService      *services.AdminService
	assignmentService *services.AssignmentService
	missionService    *services.MissionService
}

func NewAdminHandler(adminService *services.AdminService, assignmentService *services.AssignmentService, missionService *services.MissionService) *AdminHandler {
	return &AdminHandler{
		adminService:      adminService,
		assignmentService: assignmentService,
		missionService:    missionService,
	}
}

type assignDriverRequest struct {
	DriverID string `json:"driverId"`
}

type setRegionRequest struct {
	RegionID string `json:"regionId"`
}

func (h *AdminHandler) GetStats(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	stats, err := h.adminService.Stats(c.Request.Context(), actor)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Statistics retrieved successfully", stats)
}

// GetUsers lists accounts, optionally filtered by the role query parameter
func (h *AdminHandler) GetUsers(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	users, err := h.adminService.ListUsers(c.Request.Context(), actor, models.Role(c.Query("role")))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Users retrieved successfully", users)
}

func (h *AdminHandler) ApproveDriver(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	driver, err := h.adminService.ApproveDriver(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Driver approved successfully", driver)
}

func (h *AdminHandler) RevokeDriver(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	driver, err := h.adminService.RevokeDriver(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Driver verification revoked", driver)
}

func (h *AdminHandler) PromoteUser(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	user, err := h.adminService.PromoteToAdmin(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "User promoted successfully", user)
}

func (h *AdminHandler) SetUserRegion(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}
	var req setRegionRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.adminService.SetUserRegion(c.Request.Context(), actor, c.Param("id"), req.RegionID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Region updated successfully", user)
}

func (h *AdminHandler) CreateRegion(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}
	var req services.CreateRegionRequest
	if !bindJSON(c, &req) {
		return
	}

	region, err := h.adminService.CreateRegion(c.Request.Context(), actor, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Region created successfully", region)
}

// GetRegions is available to every authenticated user
func (h *AdminHandler) GetRegions(c *gin.Context) {
	regions, err := h.adminService.ListRegions(c.Request.Context())
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Regions retrieved successfully", regions)
}

// GetAssignments resolves the driver assignment of every parent
func (h *AdminHandler) GetAssignments(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	board, err := h.assignmentService.Board(c.Request.Context(), actor)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Assignments retrieved successfully", board)
}

func (h *AdminHandler) GetEligibleDrivers(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	drivers, err := h.assignmentService.EligibleDriversFor(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Eligible drivers retrieved successfully", drivers)
}

// AssignParentDriver sets or, with an empty driverId, clears a parent's driver
func (h *AdminHandler) AssignParentDriver(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}
	var req assignDriverRequest
	if !bindJSON(c, &req) {
		return
	}

	parent, err := h.assignmentService.AssignDriverToParent(c.Request.Context(), actor, c.Param("id"), req.DriverID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Driver assignment updated", parent)
}

func (h *AdminHandler) AssignTransportDriver(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}
	var req assignDriverRequest
	if !bindJSON(c, &req) {
		return
	}

	transport, err := h.assignmentService.AssignDriverToTransport(c.Request.Context(), actor, c.Param("id"), req.DriverID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Driver assigned to transport", transport)
}

// ArchiveMission uploads a completed mission's trace again
func (h *AdminHandler) ArchiveMission(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	url, err := h.missionService.ArchiveTrace(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Trace archived successfully", gin.H{"url": url})
}
