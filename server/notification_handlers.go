package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jrsteele09/order101-console/notify"
	"github.com/rs/zerolog/log"
)

// streamKeepAlive is how often an idle relay writes a comment line.
const streamKeepAlive = 15 * time.Second

type feedResponse struct {
	notify.Feed
	HasMore bool   `json:"hasMore"`
	Stream  string `json:"stream"`
}

func (s *Server) writeFeed(w http.ResponseWriter) {
	feed := s.console.Channel.Snapshot()
	writeJSON(w, http.StatusOK, feedResponse{
		Feed:    feed,
		HasMore: feed.HasMore(),
		Stream:  s.console.Channel.State().String(),
	})
}

func (s *Server) NotificationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeFeed(w)
	}
}

func (s *Server) LoadMoreHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.console.Channel.LoadMore(r.Context()); err != nil {
			writeBackendError(w, err)
			return
		}
		s.writeFeed(w)
	}
}

func (s *Server) ReadAllHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.console.Channel.MarkAllRead(r.Context()); err != nil {
			writeBackendError(w, err)
			return
		}
		s.writeFeed(w)
	}
}

func (s *Server) DeleteNotificationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil || id <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "notification id must be a positive integer"})
			return
		}
		if err := s.console.Channel.Delete(r.Context(), id); err != nil {
			writeBackendError(w, err)
			return
		}
		s.writeFeed(w)
	}
}

func (s *Server) ClearNotificationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.console.Channel.ClearAll(r.Context()); err != nil {
			writeBackendError(w, err)
			return
		}
		s.writeFeed(w)
	}
}

// NotificationStreamHandler relays live notifications to the browser as
// server-sent events. It ends when the client goes away or the session is gone.
// The subscription is in place before the response headers go out. A login
// as someone else or a logout ends the relay.
func (s *Server) NotificationStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		generation := s.console.Store.Generation()
		events := make(chan notify.Notification, 16)
		unsubscribe := s.console.Channel.Subscribe(func(n notify.Notification) {
			select {
			case events <- n:
			default:
				log.Warn().Int64("id", n.ID).Msg("notification relay is behind, dropping event")
			}
		})
		defer unsubscribe()

		rc := http.NewResponseController(w)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		if err := rc.Flush(); err != nil {
			log.Warn().Err(err).Msg("notification relay needs a flushing writer")
			return
		}

		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case n := <-events:
				if s.console.Store.Generation() != generation {
					return
				}
				data, err := json.Marshal(n)
				if err != nil {
					log.Warn().Err(err).Int64("id", n.ID).Msg("failed to encode notification")
					continue
				}
				if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", n.ID, notify.EventNotification, data); err != nil {
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
			case <-keepAlive.C:
				if s.console.Store.Generation() != generation {
					return
				}
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
			}
		}
	}
}
