package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/iconidentify/tokgrab/internal/domain"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 200
)

// keepaliveInterval is a var so tests can shorten it.
var keepaliveInterval = 30 * time.Second

// EventFeed is the in-process transition feed the handler reads from.
type EventFeed interface {
	Recent(n int) []domain.DownloadEvent
	Subscribe() (uint64, <-chan domain.DownloadEvent)
	Unsubscribe(id uint64)
	Subscribers() int
}

// EventHandler serves download status transitions.
type EventHandler struct {
	feed   EventFeed
	logger *slog.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(feed EventFeed, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		feed:   feed,
		logger: logger,
	}
}

// RecentEventsResponse wraps the events array.
type RecentEventsResponse struct {
	Events      []domain.DownloadEvent `json:"events"`
	Subscribers int                    `json:"subscribers"`
}

// Recent handles GET /events
// Query parameters:
//   - limit: max events to return (default 50, max 200)
//   - download_id: only events for this download
func (h *EventHandler) Recent(w http.ResponseWriter, r *http.Request) {
	n := defaultEventLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		n = min(parsed, maxEventLimit)
	}

	var filter domain.DownloadID
	if raw := r.URL.Query().Get("download_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid download id")
			return
		}
		filter = domain.DownloadID(id)
	}

	// Filtering happens over the whole buffer so a busy feed does not hide older matches.
	source := h.feed.Recent(0)
	events := make([]domain.DownloadEvent, 0, n)
	for _, e := range source {
		if filter != 0 && e.DownloadID != filter {
			continue
		}
		events = append(events, e)
		if len(events) == n {
			break
		}
	}

	writeJSON(w, http.StatusOK, RecentEventsResponse{
		Events:      events,
		Subscribers: h.feed.Subscribers(),
	})
}

// Stream handles GET /events/stream
// Server-Sent Events endpoint for live transitions.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subID, eventCh := h.feed.Subscribe()
	defer h.feed.Unsubscribe(subID)

	h.logger.Info("SSE client connected", "subscriber_id", subID, "remote_addr", r.RemoteAddr)

	fmt.Fprintf(w, "event: connected\ndata: {\"subscriber_id\": %d}\n\n", subID)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected", "subscriber_id", subID)
			return

		case event, ok := <-eventCh:
			if !ok {
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn("failed to serialize event", "download_id", event.DownloadID, "error", err)
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Status, data)
			flusher.Flush()

		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
