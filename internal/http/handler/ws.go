package handler

import (
	"context"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"qtech-backend/internal/http/middleware"
	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
	"qtech-backend/internal/realtime"
)

// UpgradeOnly rejects plain HTTP requests on websocket routes.
func UpgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func principalOf(conn *websocket.Conn) models.Principal {
	p, _ := conn.Locals(middleware.LocalPrincipal).(models.Principal)
	return p
}

// UserWS streams the caller's own queue events.
func (h *Handler) UserWS(conn *websocket.Conn) {
	p := principalOf(conn)
	if p.UserID == 0 {
		_ = conn.Close()
		return
	}
	h.Hub.Serve(h.Base, conn, realtime.UserTopic(p.UserID), nil)
}

// ServiceWS streams the events of one service, starting with a snapshot.
func (h *Handler) ServiceWS(conn *websocket.Conn) {
	serviceID, err := strconv.ParseInt(conn.Params("serviceId"), 10, 64)
	if err != nil || serviceID <= 0 {
		h.closeWith(conn, "Invalid serviceId")
		return
	}

	h.Hub.Serve(h.Base, conn, realtime.ServiceTopic(serviceID), func(ctx context.Context) ([]byte, error) {
		snap, err := h.Engine.ServiceSnapshot(ctx, serviceID)
		if err != nil {
			msg := "Service unavailable"
			if m, ok := kindErrors[queue.KindOf(err)]; ok {
				msg = m.message
			}
			frame, _ := json.Marshal(fiber.Map{"type": "error", "message": msg})
			return frame, err
		}
		return json.Marshal(fiber.Map{"type": realtime.EventServiceState, "data": snap})
	})
}

// DisplayWS is the public display board feed.
func (h *Handler) DisplayWS(conn *websocket.Conn) {
	h.Hub.Serve(h.Base, conn, realtime.DisplayTopic, func(ctx context.Context) ([]byte, error) {
		snap, err := h.Display.Snapshot(ctx)
		if err != nil {
			h.log.Warn().Err(err).Msg("display snapshot unavailable")
			return nil, nil
		}
		return snap, nil
	})
}

func (h *Handler) closeWith(conn *websocket.Conn, message string) {
	_ = conn.WriteJSON(fiber.Map{"type": "error", "message": message})
	_ = conn.Close()
}
