package web

import (
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/echospeak/pkg/conversation"
	"github.com/teslashibe/echospeak/pkg/hub"
	"github.com/teslashibe/echospeak/pkg/ledger"
	"github.com/teslashibe/echospeak/pkg/orchestrator"
)

// Status is the snapshot returned by /api/status and sent to new event
// stream clients.
type Status struct {
	State          orchestrator.State `json:"state"`
	Speaking       bool               `json:"speaking"`
	Fallback       bool               `json:"fallback"`
	ConversationID string             `json:"conversation_id,omitempty"`
	UserName       string             `json:"user_name,omitempty"`
	Clients        int                `json:"clients"`
	LastLatency    string             `json:"last_latency,omitempty"`
	AverageLatency string             `json:"average_latency,omitempty"`
}

// SessionRequest is the optional body of POST /api/session.
type SessionRequest struct {
	UserName string `json:"user_name"`
}

// StatsResponse is returned by /api/stats.
type StatsResponse struct {
	ledger.Stats
	RecentTopics []string `json:"recent_topics"`
}

func (s *Server) status() Status {
	ctl := s.cfg.Controller
	st := Status{
		State:          ctl.State(),
		Speaking:       ctl.IsSpeaking(),
		Fallback:       ctl.FallbackMode(),
		ConversationID: ctl.ConversationID(),
		UserName:       ctl.UserName(),
		Clients:        s.cfg.Hub.ClientCount(),
	}
	if tr := s.cfg.Latency; tr != nil {
		if last, ok := tr.Last(); ok {
			st.LastLatency = last.Format()
			st.AverageLatency = tr.Average().Format()
		}
	}
	return st
}

func (s *Server) handleStartSession(c *fiber.Ctx) error {
	var req SessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}
	}
	if req.UserName != "" {
		s.cfg.Controller.SetUserName(req.UserName)
	}

	greeting, err := s.cfg.Controller.StartSession(c.UserContext())
	if errors.Is(err, orchestrator.ErrSessionOpen) {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"conversation_id": s.cfg.Controller.ConversationID(),
		"greeting":        greeting,
	})
}

func (s *Server) handleStartRecording(c *fiber.Ctx) error {
	if !s.cfg.Controller.StartRecording() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"started": false, "status": s.status()})
	}
	return c.JSON(fiber.Map{"started": true})
}

func (s *Server) handleStopRecording(c *fiber.Ctx) error {
	if !s.cfg.Controller.StopRecording() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"stopped": false, "status": s.status()})
	}
	return c.JSON(fiber.Map{"stopped": true})
}

func (s *Server) handleEndCall(c *fiber.Ctx) error {
	err := s.cfg.Controller.EndCall()
	if errors.Is(err, orchestrator.ErrNoSession) {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	if err != nil {
		// The call is closed even when the flush failed.
		s.logger.Warn("call ended with error", "error", err)
	}
	return c.JSON(fiber.Map{"ended": true, "conversation_id": s.cfg.Controller.ConversationID()})
}

func (s *Server) handleResetFallback(c *fiber.Ctx) error {
	s.cfg.Controller.ResetFallback()
	return c.JSON(fiber.Map{"fallback": false})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleConversation returns the visible turns of the open conversation.
func (s *Server) handleConversation(c *fiber.Ctx) error {
	turns := conversation.Visible(s.cfg.Controller.Turns())
	if turns == nil {
		turns = []conversation.Turn{}
	}
	return c.JSON(fiber.Map{
		"conversation_id": s.cfg.Controller.ConversationID(),
		"messages":        turns,
	})
}

func (s *Server) handleNotifications(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Notifications.All())
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	user := c.Query("user", s.cfg.Controller.UserName())
	topics := s.cfg.History.RecentTopics(user)
	if topics == nil {
		topics = []string{}
	}
	return c.JSON(StatsResponse{
		Stats:        s.cfg.History.Stats(),
		RecentTopics: topics,
	})
}

// handleEventsWS streams hub events, starting with a status snapshot.
func (s *Server) handleEventsWS(conn *websocket.Conn) {
	client := hub.NewClient(s.cfg.Hub, conn)
	if msg, err := hub.EncodeEvent(hub.Event{Type: hub.EventState, Data: s.status(), Time: time.Now()}); err == nil {
		client.Send(msg)
	}
	client.Run()
}
