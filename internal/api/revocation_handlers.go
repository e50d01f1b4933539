package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/middleware"
	"github.com/mwistrand/aussie-sub004/internal/revocation"
	"github.com/mwistrand/aussie-sub004/internal/validation"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Credentials ride in headers, not cookies, so a cross-origin
		// browser cannot reuse them. Reject foreign origins anyway.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	},
}

const streamHeartbeatInterval = 30 * time.Second

// RevocationStreamMessage frames everything sent over the admin
// revocation websocket.
type RevocationStreamMessage struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Event     *revocation.Event `json:"event,omitempty"`
	Message   string            `json:"message,omitempty"`
}

func (h *Handler) requireRevocation(c *gin.Context) bool {
	if h.svc.Revocation == nil {
		middleware.AbortWithAppError(c, apperrors.ErrStateViolation.WithMessage("revocation is not configured"))
		return false
	}
	return true
}

// RevokeToken puts a single jti on the revocation list until the
// token's natural expiry.
func (h *Handler) RevokeToken(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireRevocation(c) {
		return
	}

	var req validation.RevokeTokenRequest
	if err := validation.BindAndValidate(h.validator, c, &req); err != nil {
		h.abortValidation(c, err)
		return
	}

	if err := h.svc.Revocation.RevokeToken(ctx, req.JTI, req.ExpiresAt); err != nil {
		h.logger.Error(ctx, "Token revocation failed",
			logging.String("jti", req.JTI),
			logging.Error("error", err))
		middleware.AbortWithError(c, err, apperrors.ErrTransient)
		return
	}

	h.logger.Info(ctx, "Token revoked via admin API",
		logging.String("jti", req.JTI),
		logging.String("revoked_by", subjectOf(c)))

	c.Status(http.StatusNoContent)
}

// RevokeUser revokes every token the subject obtained before the
// cutoff. issued_before defaults to now.
func (h *Handler) RevokeUser(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireRevocation(c) {
		return
	}

	var req validation.RevokeUserRequest
	if err := validation.BindAndValidate(h.validator, c, &req); err != nil {
		h.abortValidation(c, err)
		return
	}

	if err := h.svc.Revocation.RevokeUser(ctx, req.UserID, req.IssuedBefore, req.ExpiresAt); err != nil {
		h.logger.Error(ctx, "User revocation failed",
			logging.String("user_id", req.UserID),
			logging.Error("error", err))
		middleware.AbortWithError(c, err, apperrors.ErrTransient)
		return
	}

	h.logger.Info(ctx, "User tokens revoked via admin API",
		logging.String("user_id", req.UserID),
		logging.String("revoked_by", subjectOf(c)))

	c.Status(http.StatusNoContent)
}

// RevocationStatus reports the subsystem's tiers and cache sizes.
func (h *Handler) RevocationStatus(c *gin.Context) {
	if !h.requireRevocation(c) {
		return
	}
	c.JSON(http.StatusOK, h.svc.Revocation.Status())
}

// StreamRevocations pushes applied revocation events over a websocket
// until the client disconnects. Intended for ops tooling that mirrors
// the revocation list into sidecars.
func (h *Handler) StreamRevocations(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.requireRevocation(c) {
		return
	}

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error(ctx, "Failed to upgrade to WebSocket", logging.Error("error", err))
		return
	}
	defer conn.Close()

	// Subscribe before the hello frame so events raised right after the
	// client sees "connected" are not lost.
	events, unsubscribe := h.svc.Revocation.SubscribeEvents()
	defer unsubscribe()

	connected := RevocationStreamMessage{
		Type:      "connected",
		Timestamp: time.Now(),
		Message:   "subscribed to revocation events",
	}
	if err := conn.WriteJSON(connected); err != nil {
		h.logger.Error(ctx, "Failed to send connected message", logging.Error("error", err))
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The reader only watches for the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	h.logger.Info(ctx, "Revocation stream opened", logging.String("subject", subjectOf(c)))

	for {
		select {
		case <-streamCtx.Done():
			disconnected := RevocationStreamMessage{
				Type:      "disconnected",
				Timestamp: time.Now(),
				Message:   "revocation stream closed",
			}
			conn.WriteJSON(disconnected)
			return

		case evt, ok := <-events:
			if !ok {
				return
			}
			msg := RevocationStreamMessage{
				Type:      "revocation",
				Timestamp: time.Now(),
				Event:     &evt,
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Error(ctx, "Failed to write revocation event", logging.Error("error", err))
				return
			}

		case <-heartbeat.C:
			msg := RevocationStreamMessage{
				Type:      "heartbeat",
				Timestamp: time.Now(),
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
