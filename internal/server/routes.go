package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sapienshq/sapiens/internal/backend"
	"github.com/sapienshq/sapiens/internal/models"
	"github.com/sapienshq/sapiens/internal/pipeline"
	"github.com/sapienshq/sapiens/internal/room"
	"github.com/sapienshq/sapiens/internal/session"
)

// sessionTokenHeader carries the client's session token. Clients without
// one fall back to their user id, giving them one logical session.
const sessionTokenHeader = "X-Session-Token"

func (s *Server) registerRoutes() {
	r := s.router

	r.GET("/healthz", s.handleHealthz)
	r.GET("/readyz", s.handleReadyz)

	r.POST("/init", s.handleInit)
	r.POST("/chat", s.handleChat)

	r.POST("/rooms", s.handleCreateRoom)
	r.GET("/rooms", s.handleListRooms)
	r.GET("/rooms/:id", s.handleGetRoom)
	r.PATCH("/rooms/:id", s.handleUpdateRoom)
	r.POST("/rooms/:id/messages", s.handleRoomMessage)
	r.POST("/rooms/:id/save-message", s.handleSaveMessage)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReadyz reports readiness: the database must answer a ping. The
// AI backend's health is reported but does not fail readiness, since
// read endpoints keep working without it.
func (s *Server) handleReadyz(c *gin.Context) {
	sqlDB, err := s.opts.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"backend": s.opts.Backend.Health(c.Request.Context()),
	})
}

type initRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleInit(c *gin.Context) {
	var req initRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId"})
		return
	}

	token := session.Token(c.GetHeader(sessionTokenHeader))
	if token == "" {
		token = session.Token(req.UserID)
	}

	if err := s.opts.Gate.EnsureInitialized(c.Request.Context(), token, req.UserID); err != nil {
		s.logger.Error("user initialization failed",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		c.JSON(backendStatus(err), gin.H{"error": "Failed to initialize user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"userId": req.UserID}})
}

type chatRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// handleChat runs a free-standing turn and feeds the result to the
// phase orchestrator, which may materialize a room.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	tr, err := s.opts.Pipeline.SendTurn(c.Request.Context(), req.UserID, "", req.Message)
	if err != nil {
		s.writeTurnError(c, err)
		return
	}

	resp := gin.H{"success": true, "response": tr.Response, "state": tr.Phase}

	result, err := s.opts.Orchestrator.ObserveTurn(c.Request.Context(), req.UserID, req.Message, tr.Response, tr.Phase)
	if err != nil {
		// The turn itself succeeded; room creation retries on the next
		// turn past the boundary.
		s.logger.Error("room materialization failed",
			zap.String("user_id", req.UserID),
			zap.Error(err))
	} else if result.RoomID != "" {
		resp["roomId"] = result.RoomID
		resp["roomCreated"] = result.Created
	}
	c.JSON(http.StatusOK, resp)
}

type createRoomRequest struct {
	UserID      string `json:"userId"`
	ProjectData struct {
		Phase        string `json:"phase"`
		TargetRole   string `json:"targetRole"`
		TargetDomain string `json:"targetDomain"`
		Background   string `json:"background"`
		Interests    string `json:"interests"`
		ProjectID    string `json:"projectId"`
	} `json:"projectData"`
}

func (s *Server) handleCreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId"})
		return
	}

	rm, err := s.opts.Repo.CreateRoom(c.Request.Context(), req.UserID, room.ProjectData{
		Phase:        req.ProjectData.Phase,
		TargetRole:   req.ProjectData.TargetRole,
		TargetDomain: req.ProjectData.TargetDomain,
		Background:   req.ProjectData.Background,
		Interests:    req.ProjectData.Interests,
		ProjectID:    req.ProjectData.ProjectID,
	})
	if err != nil {
		s.logger.Error("room creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": rm})
}

func (s *Server) handleListRooms(c *gin.Context) {
	userID := c.Query("userId")
	if strings.TrimSpace(userID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId"})
		return
	}

	summaries, err := s.opts.Repo.ListRooms(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("room listing failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": summaries})
}

func (s *Server) handleGetRoom(c *gin.Context) {
	rm, err := s.opts.Repo.GetRoom(c.Request.Context(), c.Param("id"))
	if errors.Is(err, room.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		s.logger.Error("room fetch failed", zap.String("room_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": rm})
}

func (s *Server) handleUpdateRoom(c *gin.Context) {
	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil || len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing update fields"})
		return
	}

	rm, err := s.opts.Repo.Update(c.Request.Context(), c.Param("id"), fields)
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
	case errors.Is(err, room.ErrFieldNotUpdatable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid update fields", "details": err.Error()})
	case err != nil:
		s.logger.Error("room update failed", zap.String("room_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update room"})
	default:
		c.JSON(http.StatusOK, gin.H{"room": rm})
	}
}

type roomMessageRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// handleRoomMessage runs an in-room turn: user message persisted first,
// then the backend exchange, then the assistant message and phase update
// together.
func (s *Server) handleRoomMessage(c *gin.Context) {
	var req roomMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	tr, err := s.opts.Pipeline.SendTurn(c.Request.Context(), req.UserID, c.Param("id"), req.Message)
	if err != nil {
		s.writeTurnError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userMessage":      tr.UserMessage,
		"assistantMessage": tr.AssistantMessage,
		"phase":            tr.Phase,
	})
}

type saveMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Phase   string `json:"phase"`
}

// handleSaveMessage appends a single message without involving the AI
// backend. Every call appends a new row; there is no deduplication.
func (s *Server) handleSaveMessage(c *gin.Context) {
	var req saveMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil ||
		strings.TrimSpace(req.Role) == "" || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing role or content"})
		return
	}
	if !models.ValidRole(req.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
		return
	}

	roomID := c.Param("id")
	ctx := c.Request.Context()

	phase := req.Phase
	if phase == "" {
		rm, err := s.opts.Repo.FindRoom(ctx, roomID)
		if errors.Is(err, room.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		if err != nil {
			s.logger.Error("room lookup failed", zap.String("room_id", roomID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save message"})
			return
		}
		phase = rm.Phase
	}

	msg, err := s.opts.Repo.AppendMessage(ctx, roomID, req.Role, req.Content, phase)
	if errors.Is(err, room.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		s.logger.Error("message save failed", zap.String("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// writeTurnError maps a pipeline failure onto an HTTP response.
func (s *Server) writeTurnError(c *gin.Context, err error) {
	var terr *pipeline.TurnError
	if !errors.As(err, &terr) {
		s.logger.Error("unclassified turn failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch terr.Kind {
	case pipeline.KindValidation:
		status = http.StatusBadRequest
	case pipeline.KindRoomNotFound:
		status = http.StatusNotFound
	case pipeline.KindTimeout:
		status = http.StatusGatewayTimeout
	case pipeline.KindUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("turn failed", zap.String("kind", terr.Kind.String()), zap.Error(terr))
	}
	c.JSON(status, gin.H{"error": terr.Detail, "kind": terr.Kind.String()})
}

// backendStatus picks a status for a raw backend client error.
func backendStatus(err error) int {
	switch {
	case errors.Is(err, backend.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, backend.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
