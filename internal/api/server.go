package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
	"github.com/fathima-sithara/chat-fanout/internal/errs"
	"github.com/fathima-sithara/chat-fanout/internal/hub"
	"github.com/fathima-sithara/chat-fanout/internal/metrics"
)

type Ingester interface {
	Ingest(ctx context.Context, ev domain.RoomEvent) error
}

type RoomState interface {
	RecentMessages(ctx context.Context, roomID string) ([]*domain.Message, error)
	RoomUsers(ctx context.Context, roomID string) ([]string, error)
	RoomUserCount(ctx context.Context, roomID string) (int64, error)
	TypingUsers(ctx context.Context, roomID string) ([]string, error)
}

type History interface {
	History(ctx context.Context, roomID string, before time.Time, limit int) ([]*domain.Message, error)
}

type Reactions interface {
	Reactions(ctx context.Context, messageID string) (domain.ReactionTally, error)
	ReactionsForMessages(ctx context.Context, messageIDs []string) (map[string]domain.ReactionTally, error)
}

type ReadReceipts interface {
	ReadStatusForMessages(ctx context.Context, messageIDs []string) (map[string][]string, error)
	LastReadMessageID(ctx context.Context, roomID, userID string) (string, bool, error)
	ReadCount(ctx context.Context, messageID string) (int64, error)
	HasUserRead(ctx context.Context, messageID, userID string) (bool, error)
	UsersWhoRead(ctx context.Context, messageID string) ([]string, error)
}

type Subscriber interface {
	Subscribe(roomID string) *hub.Subscription
	Unsubscribe(s *hub.Subscription)
}

type Deps struct {
	Ingester     Ingester
	State        RoomState
	History      History
	Reactions    Reactions
	ReadReceipts ReadReceipts
	Hub          Subscriber
	Metrics      *metrics.Metrics
	Log          *zap.SugaredLogger

	IngestRatePerSecond float64
	IngestBurst         int
	PingInterval        time.Duration
	WriteDeadline       time.Duration
}

type Server struct {
	app      *fiber.App
	deps     Deps
	limiters sync.Map // room id -> *rate.Limiter
}

func NewServer(d Deps) *Server {
	if d.PingInterval <= 0 {
		d.PingInterval = 25 * time.Second
	}
	if d.WriteDeadline <= 0 {
		d.WriteDeadline = 10 * time.Second
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(recover.New())
	s := &Server{app: app, deps: d}

	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	v1 := app.Group("/v1")
	v1.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	v1.Post("/events", s.ingest)

	v1.Get("/rooms/:roomId/recent", s.recentMessages)
	v1.Get("/rooms/:roomId/users", s.roomUsers)
	v1.Get("/rooms/:roomId/typing", s.typingUsers)
	v1.Get("/rooms/:roomId/history", s.history)
	v1.Get("/rooms/:roomId/users/:userId/last-read", s.lastRead)

	v1.Get("/messages/reactions", s.reactionsForMessages)
	v1.Get("/messages/read-status", s.readStatus)
	v1.Get("/messages/:messageId/reactions", s.reactions)
	v1.Get("/messages/:messageId/read-count", s.readCount)
	v1.Get("/messages/:messageId/readers", s.readers)
	v1.Get("/messages/:messageId/readers/:userId", s.hasRead)

	v1.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/ws", websocket.New(s.subscribe))

	return s
}

func (s *Server) App() *fiber.App { return s.app }

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()
	s.deps.Log.Infow("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.app.ShutdownWithContext(shutdownCtx)
	}
}

func (s *Server) allow(roomID string) bool {
	if s.deps.IngestRatePerSecond <= 0 {
		return true
	}
	l, _ := s.limiters.LoadOrStore(roomID, rate.NewLimiter(rate.Limit(s.deps.IngestRatePerSecond), s.deps.IngestBurst))
	return l.(*rate.Limiter).Allow()
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, errs.ErrInvalidEvent):
		code = fiber.StatusBadRequest
	case errors.Is(err, errs.ErrRateLimited):
		code = fiber.StatusTooManyRequests
	case errors.Is(err, errs.ErrAppendFailed), errors.Is(err, errs.ErrUnavailable):
		code = fiber.StatusServiceUnavailable
	case errors.Is(err, errs.ErrNotFound):
		code = fiber.StatusNotFound
	}
	return c.Status(code).JSON(fiber.Map{"status": "error", "error": err.Error()})
}

// unavailable marks a state or store failure behind a query as a 503.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", errs.ErrUnavailable, err)
}

func success(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{"status": "success", "data": data})
}

// ids parses ?ids=a,b,c
func ids(c *fiber.Ctx) []string {
	var out []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func queryTime(c *fiber.Ctx, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, raw)
}
