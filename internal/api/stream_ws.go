package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/flitsinc/go-swarm/internal/journal"
)

type wsWriter interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
}

func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("journal"))
		return
	}

	streamsParam := r.URL.Query().Get("streams")
	if streamsParam == "" {
		streamsParam = "dispatches,decisions,errors"
	}
	streamList := splitComma(streamsParam)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	ctx := r.Context()
	if err := streamRecords(ctx, s.Journal, streamList, conn); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "stream error")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func streamRecords(ctx context.Context, jrnl *journal.Journal, streamList []string, writer wsWriter) error {
	sub := jrnl.Subscribe(ctx, streamList)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-sub:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := writer.Write(ctx, websocket.MessageText, payload); err != nil {
				return err
			}
		}
	}
}
