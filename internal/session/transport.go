package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/logger"
)

// Transport wire constants (§6.3).
const (
	sessionIDHeader   = "mcp-session-id"
	lastEventIDHeader = "Last-Event-ID"
	sessionIDQueryKey = "session_id"

	keepAliveInterval = 30 * time.Second

	headerContentType     = "Content-Type"
	headerCacheControl    = "Cache-Control"
	headerConnection      = "Connection"
	headerXAccelBuffering = "X-Accel-Buffering"
	sseContentType        = "text/event-stream"
)

// Handler wires the three-verb session transport (§6.3) onto a single Gin
// route. Registered for both POST/GET/DELETE on the same path, e.g.:
//
//	r.Any("/mcp", session.Handler(mgr, dispatcher, log))
//
// The SSE half is grounded on infrastructure/sse/middleware.go's
// header-setting and flush-per-event pattern.
func Handler(mgr *Manager, dispatcher Dispatcher, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost:
			handlePost(c, mgr, dispatcher, log)
		case http.MethodGet:
			handleGet(c, mgr, log)
		case http.MethodDelete:
			handleDelete(c, mgr, log)
		default:
			c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
		}
	}
}

func handlePost(c *gin.Context, mgr *Manager, dispatcher Dispatcher, log logger.Logger) {
	ctx := c.Request.Context()

	sid := c.GetHeader(sessionIDHeader)
	var sess *domain.Session
	var err error
	if sid == "" {
		sess, err = mgr.Create(ctx, c.ClientIP())
		if err != nil {
			writeTransportError(c, nil, fmt.Errorf("create session: %w", err))
			return
		}
		c.Header(sessionIDHeader, sess.SessionID)
	} else {
		sess, err = mgr.Get(ctx, sid)
		if err != nil {
			writeTransportError(c, nil, fmt.Errorf("unknown session %q: %w", sid, err))
			return
		}
		if err := mgr.Touch(ctx, sess.SessionID); err != nil {
			log.Warn("touch session failed", logger.String("session_id", sess.SessionID), logger.Error(err))
		}
		c.Header(sessionIDHeader, sess.SessionID)
	}

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeTransportError(c, nil, fmt.Errorf("decode json-rpc request: %w", err))
		return
	}

	if _, pubErr := mgr.Publish(ctx, sess.SessionID, domain.EventRequest, requestEventData(&req)); pubErr != nil {
		log.Warn("publish request event failed", logger.String("session_id", sess.SessionID), logger.Error(pubErr))
	}

	resp := dispatcher.Handle(ctx, sess.SessionID, &req)

	if req.IsNotification() {
		c.Status(http.StatusAccepted)
		return
	}

	if _, pubErr := mgr.Publish(ctx, sess.SessionID, domain.EventResponse, responseEventData(resp)); pubErr != nil {
		log.Warn("publish response event failed", logger.String("session_id", sess.SessionID), logger.Error(pubErr))
	}

	c.JSON(http.StatusOK, resp)
}

func handleGet(c *gin.Context, mgr *Manager, log logger.Logger) {
	ctx := c.Request.Context()

	sid := c.GetHeader(sessionIDHeader)
	if sid == "" {
		sid = c.Query(sessionIDQueryKey)
	}
	if sid == "" {
		c.JSON(http.StatusBadRequest, errorResponse(nil, CodeInvalidRequest, "mcp-session-id is required"))
		return
	}

	sess, err := mgr.Get(ctx, sid)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(nil, CodeInvalidRequest, "unknown session: "+sid))
		return
	}
	if err := mgr.Touch(ctx, sess.SessionID); err != nil {
		log.Warn("touch session failed", logger.String("session_id", sess.SessionID), logger.Error(err))
	}

	backlog, err := mgr.events.ReadSince(ctx, sess.SessionID, c.GetHeader(lastEventIDHeader))
	if err != nil {
		if err == ErrSequenceNotFound {
			backlog, err = mgr.events.ReadSince(ctx, sess.SessionID, "")
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse(nil, CodeInternalError, "read event log: "+err.Error()))
			return
		}
	}

	live, cleanup := mgr.Subscribe(sess.SessionID)
	defer cleanup()

	setSSEHeaders(c.Writer)
	c.Writer.Flush()

	for _, ev := range backlog {
		if err := writeEvent(c.Writer, ev); err != nil {
			return
		}
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-live:
			if !ok {
				return
			}
			if err := writeEvent(c.Writer, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := writeKeepAlive(c.Writer); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func handleDelete(c *gin.Context, mgr *Manager, log logger.Logger) {
	ctx := c.Request.Context()
	sid := c.GetHeader(sessionIDHeader)
	if sid == "" {
		sid = c.Query(sessionIDQueryKey)
	}
	if sid == "" {
		c.JSON(http.StatusBadRequest, errorResponse(nil, CodeInvalidRequest, "mcp-session-id is required"))
		return
	}
	// Delete is idempotent (§8): an unknown or already-gone session still
	// returns success rather than surfacing NotFound.
	if err := mgr.Delete(ctx, sid); err != nil {
		log.Warn("delete session failed", logger.String("session_id", sid), logger.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func writeTransportError(c *gin.Context, id any, err error) {
	c.JSON(http.StatusBadRequest, errorResponse(id, CodeInvalidRequest, err.Error()))
}

func requestEventData(req *Request) domain.JSONDoc {
	return domain.JSONDoc{"method": req.Method, "id": req.ID}
}

func responseEventData(resp *Response) domain.JSONDoc {
	doc := domain.JSONDoc{}
	payload, err := json.Marshal(resp)
	if err == nil {
		_ = json.Unmarshal(payload, &doc)
	}
	return doc
}

func setSSEHeaders(w gin.ResponseWriter) {
	w.Header().Set(headerContentType, sseContentType)
	w.Header().Set(headerCacheControl, "no-cache")
	w.Header().Set(headerConnection, "keep-alive")
	w.Header().Set(headerXAccelBuffering, "no")
}

func writeEvent(w gin.ResponseWriter, ev domain.Event) error {
	if _, err := fmt.Fprintf(w, "id: %s\n", ev.ID); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.EventType); err != nil {
		return err
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func writeKeepAlive(w gin.ResponseWriter) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	w.Flush()
	return nil
}
