package api

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
	"github.com/fathima-sithara/chat-fanout/internal/errs"
)

// ingest accepts an event envelope and answers once the log acknowledged it.
func (s *Server) ingest(c *fiber.Ctx) error {
	ev, err := domain.Decode(c.Body())
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidEvent, err)
	}
	if !s.allow(ev.Room()) {
		s.deps.Metrics.IngestFailures.WithLabelValues("rate_limited").Inc()
		return fmt.Errorf("%w: room %s", errs.ErrRateLimited, ev.Room())
	}
	if err := s.deps.Ingester.Ingest(c.UserContext(), ev); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "accepted",
		"data":   fiber.Map{"type": ev.Type(), "id": ev.ID(), "room_id": ev.Room()},
	})
}

func (s *Server) recentMessages(c *fiber.Ctx) error {
	msgs, err := s.deps.State.RecentMessages(c.UserContext(), c.Params("roomId"))
	if err != nil {
		return unavailable(err)
	}
	return success(c, msgs)
}

func (s *Server) roomUsers(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	users, err := s.deps.State.RoomUsers(c.UserContext(), roomID)
	if err != nil {
		return unavailable(err)
	}
	n, err := s.deps.State.RoomUserCount(c.UserContext(), roomID)
	if err != nil {
		return unavailable(err)
	}
	return success(c, fiber.Map{"users": users, "online_count": n})
}

func (s *Server) typingUsers(c *fiber.Ctx) error {
	users, err := s.deps.State.TypingUsers(c.UserContext(), c.Params("roomId"))
	if err != nil {
		return unavailable(err)
	}
	return success(c, users)
}

func (s *Server) history(c *fiber.Ctx) error {
	before, err := queryTime(c, "before")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid before")
	}
	msgs, err := s.deps.History.History(c.UserContext(), c.Params("roomId"), before, c.QueryInt("limit", 50))
	if err != nil {
		return unavailable(err)
	}
	return success(c, msgs)
}

func (s *Server) lastRead(c *fiber.Ctx) error {
	id, ok, err := s.deps.ReadReceipts.LastReadMessageID(c.UserContext(), c.Params("roomId"), c.Params("userId"))
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return fmt.Errorf("%w: no read cursor", errs.ErrNotFound)
	}
	return success(c, fiber.Map{"message_id": id})
}

func (s *Server) reactions(c *fiber.Ctx) error {
	tally, err := s.deps.Reactions.Reactions(c.UserContext(), c.Params("messageId"))
	if err != nil {
		return unavailable(err)
	}
	return success(c, tally)
}

func (s *Server) reactionsForMessages(c *fiber.Ctx) error {
	out, err := s.deps.Reactions.ReactionsForMessages(c.UserContext(), ids(c))
	if err != nil {
		return unavailable(err)
	}
	return success(c, out)
}

func (s *Server) readStatus(c *fiber.Ctx) error {
	out, err := s.deps.ReadReceipts.ReadStatusForMessages(c.UserContext(), ids(c))
	if err != nil {
		return unavailable(err)
	}
	return success(c, out)
}

func (s *Server) readCount(c *fiber.Ctx) error {
	n, err := s.deps.ReadReceipts.ReadCount(c.UserContext(), c.Params("messageId"))
	if err != nil {
		return unavailable(err)
	}
	return success(c, fiber.Map{"count": n})
}

func (s *Server) readers(c *fiber.Ctx) error {
	users, err := s.deps.ReadReceipts.UsersWhoRead(c.UserContext(), c.Params("messageId"))
	if err != nil {
		return unavailable(err)
	}
	return success(c, users)
}

func (s *Server) hasRead(c *fiber.Ctx) error {
	ok, err := s.deps.ReadReceipts.HasUserRead(c.UserContext(), c.Params("messageId"), c.Params("userId"))
	if err != nil {
		return unavailable(err)
	}
	return success(c, fiber.Map{"read": ok})
}

// subscribe streams a room's events over a websocket: /v1/ws?roomId=<id>
func (s *Server) subscribe(conn *websocket.Conn) {
	roomID := conn.Query("roomId")
	if roomID == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"error","error":"missing roomId"}`))
		_ = conn.Close()
		return
	}

	sub := s.deps.Hub.Subscribe(roomID)
	defer s.deps.Hub.Unsubscribe(sub)

	// inbound frames are ignored; reading notices the peer going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.deps.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case data, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "subscriber too slow"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.deps.WriteDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.deps.Log.Warnw("ws write failed", "room_id", roomID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.deps.WriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
