package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/seoman/internal/model"
)

const defaultKeepAlive = 15 * time.Second

// EventsHandler はプロジェクトの変更をServer-Sent Eventsで配信する。
type EventsHandler struct {
	mirrors   MirrorRegistry
	keepAlive time.Duration
}

// NewEventsHandler はEventsHandlerを生成する。keepAliveが0以下なら15秒。
func NewEventsHandler(mirrors MirrorRegistry, keepAlive time.Duration) *EventsHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &EventsHandler{mirrors: mirrors, keepAlive: keepAlive}
}

// Stream は現在の一覧をsnapshotとして送り、以降は適用済みの変更を送り続ける。
// GET /api/projects/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	m, ok := acquireMirror(w, r, h.mirrors)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// 長時間接続のためサーバーの書き込み期限を外す
	_ = rc.SetWriteDeadline(time.Time{})

	// 取りこぼしを避けるため一覧より先に購読する
	changes, cancel := m.Watch()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", m.List()); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		slog.Warn("event stream does not support flushing", slog.String("error", err.Error()))
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case change, ok := <-changes:
			if !ok {
				// セッション切り替えか読み出し遅延。クライアントの再接続でsnapshotからやり直す
				return
			}
			if err := writeEvent(w, string(change.Type), eventPayload(change)); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// eventPayload はイベント種別ごとの送信データを返す。resyncは本文を持たない。
func eventPayload(change model.ProjectChange) interface{} {
	if change.Type == model.ChangeResync {
		return struct{}{}
	}
	return change.Project
}

func writeEvent(w http.ResponseWriter, event string, data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to encode event", slog.String("event", event), slog.String("error", err.Error()))
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}
