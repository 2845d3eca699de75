package presence

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/caelven/listend/internal/metrics"
	"github.com/caelven/listend/pkg/response"
)

// Handler is the polling (REST) presence transport:
//
//	POST /presence {action: join|heartbeat|leave, id, track} -> {count}
//	GET  /presence                                           -> {count}
//	GET  /presence/listeners                                 -> roster
//
// Staleness is enforced inline: every request prunes before counting, so a
// session whose heartbeats stopped disappears on the first read past the
// threshold.
type Handler struct {
	store  Store
	pruner *Pruner
	logger *zap.Logger
}

// NewHandler creates the REST presence handler.
func NewHandler(store Store, pruner *Pruner, logger *zap.Logger) *Handler {
	return &Handler{store: store, pruner: pruner, logger: logger}
}

type presenceRequest struct {
	Action string      `json:"action" binding:"required"`
	ID     string      `json:"id" binding:"required"`
	Track  *NowPlaying `json:"track,omitempty"`
}

// Post handles POST /presence.
func (h *Handler) Post(c *gin.Context) {
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "id and action are required")
		return
	}
	ctx := c.Request.Context()
	now := h.store.Now(ctx)

	switch req.Action {
	case "join":
		metrics.PresenceOps.WithLabelValues("join").Inc()
		rec := Record{Online: true, JoinedAt: now, UpdatedAt: now, NowPlaying: req.Track}
		if err := h.store.Write(ctx, req.ID, rec); err != nil {
			metrics.PresenceOpErrors.WithLabelValues("join").Inc()
			h.logger.Warn("presence join", zap.String("session_id", req.ID), zap.Error(err))
		}
	case "heartbeat":
		metrics.PresenceOps.WithLabelValues("heartbeat").Inc()
		p := Patch{UpdatedAt: &now}
		if req.Track != nil {
			p.NowPlaying = req.Track
		}
		if err := h.store.Merge(ctx, req.ID, p); err != nil {
			metrics.PresenceOpErrors.WithLabelValues("heartbeat").Inc()
			h.logger.Warn("presence heartbeat", zap.String("session_id", req.ID), zap.Error(err))
		}
	case "leave":
		metrics.PresenceOps.WithLabelValues("leave").Inc()
		if err := h.store.Remove(ctx, req.ID); err != nil {
			metrics.PresenceOpErrors.WithLabelValues("leave").Inc()
			h.logger.Warn("presence leave", zap.String("session_id", req.ID), zap.Error(err))
		}
	default:
		response.BadRequest(c, "unknown action")
		return
	}

	h.pruner.PruneOnce(ctx)
	count, err := h.count(c)
	if err != nil {
		response.Internal(c, "failed to count listeners")
		return
	}
	response.OK(c, gin.H{"count": count})
}

// GetCount handles GET /presence.
func (h *Handler) GetCount(c *gin.Context) {
	h.pruner.PruneOnce(c.Request.Context())
	count, err := h.count(c)
	if err != nil {
		response.Internal(c, "failed to count listeners")
		return
	}
	response.OK(c, gin.H{"count": count})
}

type listenerRow struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	CoverURL string `json:"coverUrl,omitempty"`
}

// GetListeners handles GET /presence/listeners: the roster for the drawer UI.
func (h *Handler) GetListeners(c *gin.Context) {
	ctx := c.Request.Context()
	h.pruner.PruneOnce(ctx)
	snap, err := h.store.Load(ctx)
	if err != nil {
		response.Internal(c, "failed to load listeners")
		return
	}
	view := DeriveView(snap, "", nil)
	rows := make([]listenerRow, 0, len(view.Roster))
	for _, e := range view.Roster {
		rows = append(rows, listenerRow{
			ID:       e.SessionID,
			Name:     AnonName(e.SessionID),
			Title:    e.NowPlaying.Title,
			Artist:   e.NowPlaying.Artist,
			CoverURL: e.NowPlaying.CoverURL,
		})
	}
	response.OK(c, gin.H{"count": view.Count, "listeners": rows})
}

func (h *Handler) count(c *gin.Context) (int, error) {
	snap, err := h.store.Load(c.Request.Context())
	if err != nil {
		return 0, err
	}
	view := DeriveView(snap, "", nil)
	metrics.ActiveListeners.Set(float64(view.Count))
	return view.Count, nil
}
