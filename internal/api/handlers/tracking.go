package handlers

import (
	"net/http"
	"time"

	"atypik-backend/internal/apperr"
	"atypik-backend/internal/models"
	"atypik-backend/internal/services"
	"atypik-backend/internal/websocket"
	"atypik-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const streamReadTimeout = 2 * time.Minute

type TrackingHandler struct {
	trackingService *services.TrackingService
	manager         *websocket.Manager
}

func NewTrackingHandler(trackingService *services.TrackingService, manager *websocket.Manager) *TrackingHandler {
	return &TrackingHandler{
		trackingService: trackingService,
		manager:         manager,
	}
}

// PostPosition ingests one GPS sample from the mission's driver
func (h *TrackingHandler) PostPosition(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}
	var sample models.Sample
	if !bindJSON(c, &sample) {
		return
	}

	result, err := h.trackingService.Ingest(c.Request.Context(), actor, c.Param("id"), sample)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	status := http.StatusAccepted
	if !result.Accepted {
		status = http.StatusOK
	}
	utils.SuccessResponse(c, status, "Position processed", result)
}

// streamMessage is one frame sent by a driver on the position stream.
type streamMessage struct {
	Type      string        `json:"type"`
	MissionID string        `json:"missionId"`
	DriverID  string        `json:"driverId,omitempty"`
	Data      models.Sample `json:"data"`
}

type streamReply struct {
	Type      string                 `json:"type"`
	MissionID string                 `json:"missionId,omitempty"`
	Result    *services.IngestResult `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// StreamPositions upgrades a driver connection and ingests every sample frame.
// Each frame is acknowledged with the ingestion result. A frame naming another
// driver is rejected; the connection stays open.
func (h *TrackingHandler) StreamPositions(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}
	if !actor.IsDriver() {
		utils.ErrorResponse(c, http.StatusForbidden, "Only drivers can stream positions", nil)
		return
	}

	conn, err := h.manager.Upgrade(c.Writer, c.Request)
	if err != nil {
		logrus.WithError(err).Warn("Failed to upgrade position stream")
		return
	}
	defer conn.Close()

	log := logrus.WithField("driver", actor.UserID)
	log.Info("Position stream opened")
	defer log.Info("Position stream closed")

	for {
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if gorilla.IsUnexpectedCloseError(err, gorilla.CloseGoingAway, gorilla.CloseNormalClosure) {
				log.WithError(err).Debug("Position stream read error")
			}
			return
		}

		reply := h.handleFrame(c, actor, msg)
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(reply); err != nil {
			log.WithError(err).Debug("Position stream write error")
			return
		}
	}
}

func (h *TrackingHandler) handleFrame(c *gin.Context, actor models.Principal, msg streamMessage) streamReply {
	switch msg.Type {
	case websocket.MessageTypePing:
		return streamReply{Type: websocket.MessageTypePong}
	case websocket.MessageTypeSample:
	default:
		return streamReply{Type: websocket.MessageTypeError, Error: "unknown message type"}
	}

	if msg.DriverID != "" && msg.DriverID != actor.UserID {
		return streamReply{
			Type:      websocket.MessageTypeError,
			MissionID: msg.MissionID,
			Error:     "driver does not match the authenticated account",
		}
	}

	result, err := h.trackingService.Ingest(c.Request.Context(), actor, msg.MissionID, msg.Data)
	if err != nil {
		return streamReply{
			Type:      websocket.MessageTypeError,
			MissionID: msg.MissionID,
			Error:     apperr.PublicMessage(err),
		}
	}
	return streamReply{Type: websocket.MessageTypeAck, MissionID: msg.MissionID, Result: &result}
}
