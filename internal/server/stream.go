package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/normanking/concierge/internal/orchestrator"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = maxRequestBody
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// chatStreamHandler serves GET /v1/chat/ws. Each text message from the client
// is one JSON request; its events are written back in order, ending with done
// or error. Requests on one connection are processed one at a time. Closing
// the connection cancels the turn in flight.
func (s *Server) chatStreamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("chat websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	requests := make(chan *orchestrator.Request)
	go s.readRequests(ctx, cancel, conn, requests)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeControl(conn, websocket.PingMessage); err != nil {
				return
			}
		case req, ok := <-requests:
			if !ok {
				return
			}
			if err := s.streamTurn(ctx, conn, req, ticker.C); err != nil {
				log.Debug().Err(err).Msg("chat websocket write failed")
				return
			}
		}
	}
}

// readRequests decodes client messages until the connection closes. A message
// that is not a valid request is answered with a recoverable error event.
func (s *Server) readRequests(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan<- *orchestrator.Request) {
	defer cancel()
	defer close(out)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("chat websocket closed")
			}
			return
		}

		var req *orchestrator.Request
		if err := json.Unmarshal(data, &req); err != nil {
			req = nil
		}
		select {
		case out <- req:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) streamTurn(ctx context.Context, conn *websocket.Conn, req *orchestrator.Request, ping <-chan time.Time) error {
	if req == nil {
		// Not a JSON request object.
		return s.writeEvent(conn, orchestrator.Event{
			Type:        orchestrator.EventError,
			Message:     "invalid request body",
			Recoverable: true,
		})
	}

	normalizeAgent(req)
	events := s.deps.Chat.ProcessStream(ctx, req)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.writeEvent(conn, ev); err != nil {
				// Drain so the coordinator can finish and close the channel.
				go func() {
					for range events {
					}
				}()
				return err
			}
		case <-ping:
			if err := s.writeControl(conn, websocket.PingMessage); err != nil {
				return err
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev orchestrator.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(ev)
}

func (s *Server) writeControl(conn *websocket.Conn, messageType int) error {
	return conn.WriteControl(messageType, nil, time.Now().Add(wsWriteWait))
}
