package project

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/seoman/internal/metrics"
)

// Registry はWebセッションIDごとのRepositoryを管理する。
type Registry struct {
	newRepo func() *Repository
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	mirrors map[string]*mirror
}

type mirror struct {
	repo     *Repository
	userID   string
	lastUsed time.Time
	signIn   *signInAttempt
}

// signInAttempt は進行中または完了したサインイン。doneが閉じた後はerrを読める。
type signInAttempt struct {
	done chan struct{}
	err  error
}

// NewRegistry はRegistryを生成する。newRepoはセッションごとに新しいRepositoryを返す。
func NewRegistry(newRepo func() *Repository, collector metrics.MetricsCollector, logger *slog.Logger) *Registry {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		newRepo: newRepo,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
		mirrors: make(map[string]*mirror),
	}
}

// Acquire はセッションのRepositoryを返す。
// 未作成の場合やセッションのユーザーが変わった場合はサインインし直す。
// サインイン中の呼び出しはその完了を待つ。
// サインインに失敗した場合はミラーを破棄し、次回の呼び出しで再試行する。
func (g *Registry) Acquire(ctx context.Context, sessionID, userID string) (*Repository, error) {
	g.mu.Lock()
	m, ok := g.mirrors[sessionID]
	if ok && m.userID == userID {
		m.lastUsed = g.now()
		attempt := m.signIn
		g.mu.Unlock()
		return g.wait(ctx, m.repo, attempt)
	}
	if !ok {
		m = &mirror{repo: g.newRepo()}
		g.mirrors[sessionID] = m
	}
	attempt := &signInAttempt{done: make(chan struct{})}
	m.userID = userID
	m.lastUsed = g.now()
	m.signIn = attempt
	g.metrics.SetActiveMirrors(len(g.mirrors))
	g.mu.Unlock()

	err := m.repo.SignIn(ctx, Session{UserID: userID, Active: true})
	if err != nil {
		g.mu.Lock()
		if cur, ok := g.mirrors[sessionID]; ok && cur == m && cur.signIn == attempt {
			delete(g.mirrors, sessionID)
			m.repo.SignOut()
		}
		g.metrics.SetActiveMirrors(len(g.mirrors))
		g.mu.Unlock()
	}
	attempt.err = err
	close(attempt.done)
	if err != nil {
		return nil, err
	}
	return m.repo, nil
}

func (g *Registry) wait(ctx context.Context, repo *Repository, attempt *signInAttempt) (*Repository, error) {
	select {
	case <-attempt.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if attempt.err != nil {
		return nil, attempt.err
	}
	return repo, nil
}

// Release はセッションのミラーをサインアウトして破棄する。
func (g *Registry) Release(sessionID string) {
	g.mu.Lock()
	m, ok := g.mirrors[sessionID]
	delete(g.mirrors, sessionID)
	g.metrics.SetActiveMirrors(len(g.mirrors))
	g.mu.Unlock()

	if ok {
		m.repo.SignOut()
	}
}

// ReleaseUser は指定ユーザーのすべてのミラーを破棄する。
func (g *Registry) ReleaseUser(userID string) {
	var released []*mirror
	g.mu.Lock()
	for id, m := range g.mirrors {
		if m.userID == userID {
			released = append(released, m)
			delete(g.mirrors, id)
		}
	}
	g.metrics.SetActiveMirrors(len(g.mirrors))
	g.mu.Unlock()

	for _, m := range released {
		m.repo.SignOut()
	}
}

// Sweep はmaxIdle以上使われていないミラーを破棄し、破棄した数を返す。
// Watch中のミラーは対象外とする。
func (g *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := g.now().Add(-maxIdle)

	var released []*mirror
	g.mu.Lock()
	for id, m := range g.mirrors {
		if m.lastUsed.Before(cutoff) && m.repo.Watching() == 0 {
			released = append(released, m)
			delete(g.mirrors, id)
		}
	}
	g.metrics.SetActiveMirrors(len(g.mirrors))
	g.mu.Unlock()

	for _, m := range released {
		m.repo.SignOut()
	}
	if len(released) > 0 {
		g.logger.Info("アイドル状態のミラーを破棄しました", slog.Int("count", len(released)))
	}
	return len(released)
}

// RunSweeper はctxがキャンセルされるまでintervalごとにSweepを実行する。
func (g *Registry) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep(maxIdle)
		}
	}
}

// Len は保持中のミラー数を返す。
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.mirrors)
}

// Close はすべてのミラーを破棄する。
func (g *Registry) Close() {
	g.mu.Lock()
	mirrors := g.mirrors
	g.mirrors = make(map[string]*mirror)
	g.metrics.SetActiveMirrors(0)
	g.mu.Unlock()

	for _, m := range mirrors {
		m.repo.SignOut()
	}
}
