package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/lifeline-edge/triage/internal/stream"
)

// answerTimeout bounds one grounded answer including every fallback.
const answerTimeout = 2 * time.Minute

// handleAnswerStream relays a grounded answer as SSE: one "chunk" event per
// chunk and a closing "meta" event with the tree nodes used. A chunk with
// replace set discards everything received before it.
func handleAnswerStream(logger *slog.Logger, answerer *stream.Answerer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q stream.Question
		if err := decode(r, &q); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ctx, cancel := context.WithTimeout(r.Context(), answerTimeout)
		defer cancel()

		send := func(event string, v any) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}

		meta, err := answerer.Answer(ctx, q, func(ch stream.Chunk) error {
			return send("chunk", ch)
		})
		if err != nil {
			logger.Warn("answer failed", "hazard", q.Hazard, "error", err)
			send("error", ErrorResponse{Error: "no content"})
			return
		}
		send("meta", meta)
	}
}

// AnswerFrame is one WebSocket message of an answer. Type is "chunk",
// "meta" or "error".
type AnswerFrame struct {
	Type      string        `json:"type"`
	Text      string        `json:"text,omitempty"`
	Replace   bool          `json:"replace,omitempty"`
	UsedNodes []string      `json:"used_nodes,omitempty"`
	Source    stream.Source `json:"source,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// handleWSAnswer answers each question message received on the socket
// with a sequence of frames ending in meta or error.
func handleWSAnswer(logger *slog.Logger, answerer *stream.Answerer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
		defer cancel()

		for {
			var q stream.Question
			if err := wsjson.Read(ctx, conn, &q); err != nil {
				var ce websocket.CloseError
				if !errors.As(err, &ce) {
					logger.Debug("websocket read ended", "error", err)
				}
				return
			}
			if err := validate.Struct(q); err != nil {
				if err := wsjson.Write(ctx, conn, AnswerFrame{Type: "error", Error: "invalid question"}); err != nil {
					return
				}
				continue
			}

			actx, acancel := context.WithTimeout(ctx, answerTimeout)
			meta, err := answerer.Answer(actx, q, func(ch stream.Chunk) error {
				return wsjson.Write(actx, conn, AnswerFrame{Type: "chunk", Text: ch.Text, Replace: ch.Replace})
			})
			acancel()

			frame := AnswerFrame{Type: "meta", UsedNodes: meta.UsedNodes, Source: meta.Source}
			if err != nil {
				logger.Warn("answer failed", "hazard", q.Hazard, "error", err)
				frame = AnswerFrame{Type: "error", Error: "no content"}
			}
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
