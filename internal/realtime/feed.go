// Package realtime はPostgreSQLのLISTEN/NOTIFYを使ったプロジェクト変更通知を提供する。
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/seoman/internal/metrics"
	"github.com/hitoshi/seoman/internal/model"
	"github.com/hitoshi/seoman/internal/project"
)

// Channel はprojectsテーブルのトリガーが通知するチャネル名。
const Channel = "project_changes"

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
	// subscriptionBuffer は購読ごとのイベントバッファ数。
	subscriptionBuffer = 64
)

// ErrClosed はClose済みのフィードへの購読要求で返される。
var ErrClosed = errors.New("change feed is closed")

// Listener はpq.Listenerのうち変更通知に使う操作。
type Listener interface {
	Listen(channel string) error
	Notifications() <-chan *pq.Notification
	Ping() error
	Close() error
}

// pqListener はpq.ListenerをListenerに適合させる。
type pqListener struct {
	*pq.Listener
}

func (l pqListener) Notifications() <-chan *pq.Notification {
	return l.Notify
}

// payload はトリガーが送るJSON。
type payload struct {
	EventType string        `json:"event_type"`
	UserID    string        `json:"user_id"`
	Row       model.Project `json:"row"`
}

// PostgresChangeFeed は1本のLISTEN接続で受けた通知をユーザーごとの購読に振り分ける。
type PostgresChangeFeed struct {
	listener Listener
	metrics  metrics.MetricsCollector
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

// NewPostgresChangeFeed はdatabaseURLへのLISTEN接続を持つPostgresChangeFeedを生成する。
// 接続は切断時に自動で再接続される。
func NewPostgresChangeFeed(databaseURL string, collector metrics.MetricsCollector, logger *slog.Logger) *PostgresChangeFeed {
	if logger == nil {
		logger = slog.Default()
	}
	l := pq.NewListener(databaseURL, minReconnectInterval, maxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			logListenerEvent(logger, ev, err)
		})
	return NewChangeFeed(pqListener{l}, collector, logger)
}

// NewChangeFeed は任意のListenerからPostgresChangeFeedを生成する。
func NewChangeFeed(listener Listener, collector metrics.MetricsCollector, logger *slog.Logger) *PostgresChangeFeed {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresChangeFeed{
		listener: listener,
		metrics:  collector,
		logger:   logger,
		subs:     make(map[string]map[*subscription]struct{}),
	}
}

func logListenerEvent(logger *slog.Logger, ev pq.ListenerEventType, err error) {
	attrs := []any{}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	switch ev {
	case pq.ListenerEventConnected:
		logger.Info("変更通知の接続を開始しました", attrs...)
	case pq.ListenerEventDisconnected:
		logger.Warn("変更通知の接続が切断されました", attrs...)
	case pq.ListenerEventReconnected:
		logger.Info("変更通知の接続を再開しました", attrs...)
	case pq.ListenerEventConnectionAttemptFailed:
		logger.Error("変更通知の再接続に失敗しました", attrs...)
	}
}

// Start はチャネルをLISTENし、ctxがキャンセルされるまで通知を配信する。
func (f *PostgresChangeFeed) Start(ctx context.Context) error {
	if err := f.listener.Listen(Channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", Channel, err)
	}
	go f.run(ctx)
	return nil
}

func (f *PostgresChangeFeed) run(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	notifications := f.listener.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			f.handle(n)
		case <-ticker.C:
			go func() {
				if err := f.listener.Ping(); err != nil {
					f.logger.Warn("変更通知の接続確認に失敗しました", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

// handle は1件の通知を購読者に配信する。
// nilは再接続を意味し、その間の通知は失われているため全購読者にresyncを送る。
func (f *PostgresChangeFeed) handle(n *pq.Notification) {
	if n == nil {
		f.metrics.RecordRealtimeEvent(string(model.ChangeResync))
		f.broadcast(model.ProjectChange{Type: model.ChangeResync})
		return
	}

	userID, change, err := decodePayload(n.Extra)
	if err != nil {
		f.logger.Warn("変更通知の解析に失敗しました", slog.String("error", err.Error()))
		return
	}
	f.metrics.RecordRealtimeEvent(string(change.Type))
	f.dispatch(userID, change)
}

// decodePayload はトリガーのペイロードをProjectChangeに変換する。
func decodePayload(extra string) (string, model.ProjectChange, error) {
	var p payload
	if err := json.Unmarshal([]byte(extra), &p); err != nil {
		return "", model.ProjectChange{}, fmt.Errorf("invalid payload: %w", err)
	}

	var t model.ChangeType
	switch strings.ToUpper(p.EventType) {
	case "INSERT":
		t = model.ChangeInsert
	case "UPDATE":
		t = model.ChangeUpdate
	case "DELETE":
		t = model.ChangeDelete
	default:
		return "", model.ProjectChange{}, fmt.Errorf("unknown event type %q", p.EventType)
	}

	userID := p.UserID
	if userID == "" {
		userID = p.Row.UserID
	}
	if userID == "" || p.Row.ID == "" {
		return "", model.ProjectChange{}, errors.New("payload without user_id or row id")
	}
	p.Row.UserID = userID
	return userID, model.ProjectChange{Type: t, Project: p.Row}, nil
}

func (f *PostgresChangeFeed) dispatch(userID string, change model.ProjectChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs[userID] {
		s.deliver(change, f.logger)
	}
}

func (f *PostgresChangeFeed) broadcast(change model.ProjectChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, set := range f.subs {
		for s := range set {
			s.deliver(change, f.logger)
		}
	}
}

// Subscribe はuserIDの変更通知を受け取る購読を開く。
func (f *PostgresChangeFeed) Subscribe(ctx context.Context, userID string) (project.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	s := &subscription{
		feed:   f,
		userID: userID,
		events: make(chan model.ProjectChange, subscriptionBuffer),
	}
	set, ok := f.subs[userID]
	if !ok {
		set = make(map[*subscription]struct{})
		f.subs[userID] = set
	}
	set[s] = struct{}{}
	return s, nil
}

// Subscribers は指定ユーザーの購読数を返す。
func (f *PostgresChangeFeed) Subscribers(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[userID])
}

// Close はLISTEN接続とすべての購読を閉じる。
func (f *PostgresChangeFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for userID, set := range f.subs {
		for s := range set {
			s.closeLocked()
		}
		delete(f.subs, userID)
	}
	f.mu.Unlock()

	return f.listener.Close()
}

// subscription は1ユーザー分の購読。
type subscription struct {
	feed   *PostgresChangeFeed
	userID string
	events chan model.ProjectChange

	// 以下はfeed.muで保護する
	closed        bool
	pendingResync bool
}

func (s *subscription) Events() <-chan model.ProjectChange {
	return s.events
}

// Close は購読を解除する。複数回呼んでもよい。
func (s *subscription) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	if s.closed {
		return nil
	}
	if set, ok := s.feed.subs[s.userID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.feed.subs, s.userID)
		}
	}
	s.closeLocked()
	return nil
}

func (s *subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// deliver はブロックせずに変更を送る。
// バッファが溢れた場合は取りこぼしを記録し、空きができた時点でresyncを先に送る。
func (s *subscription) deliver(change model.ProjectChange, logger *slog.Logger) {
	if s.closed {
		return
	}
	if change.Type == model.ChangeResync {
		s.pendingResync = true
	}
	if s.pendingResync {
		select {
		case s.events <- model.ProjectChange{Type: model.ChangeResync}:
			s.pendingResync = false
		default:
			return
		}
	}
	if change.Type == model.ChangeResync {
		return
	}
	select {
	case s.events <- change:
	default:
		s.pendingResync = true
		logger.Warn("購読者のバッファが溢れたため変更通知を破棄しました", slog.String("user_id", s.userID))
	}
}
