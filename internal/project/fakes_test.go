package project

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/seoman/internal/model"
	"github.com/hitoshi/seoman/internal/repository"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeStore はメモリ上のStore実装。
type fakeStore struct {
	mu       sync.Mutex
	rows     map[string]*model.Project
	keys     map[string]string // id -> url_key
	seq      int
	inserts  int
	listErr  error
	findErr  error
	insertFn func(p *model.Project, key string) error
	deleteFn func(id string) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]*model.Project{}, keys: map[string]string{}}
}

// seed はurl_key付きの既存行を追加する。
func (s *fakeStore) seed(userID, name, url string) *model.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(&model.Project{UserID: userID, Name: name, URL: url, Industry: model.IndustryOther}, NormalizeURL(url))
}

func (s *fakeStore) addLocked(p *model.Project, key string) *model.Project {
	s.seq++
	cp := *p
	cp.ID = fmt.Sprintf("p-%d", s.seq)
	cp.CreatedAt = baseTime.Add(time.Duration(s.seq) * time.Second)
	cp.UpdatedAt = cp.CreatedAt
	s.rows[cp.ID] = &cp
	s.keys[cp.ID] = key
	out := cp
	return &out
}

func (s *fakeStore) ListByUserID(_ context.Context, userID string) ([]*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*model.Project
	for _, p := range s.rows {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) find(userID string, match func(key string) bool) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for id, p := range s.rows {
		if p.UserID == userID && match(s.keys[id]) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindByURLKey(_ context.Context, userID, urlKey string) (*model.Project, error) {
	return s.find(userID, func(key string) bool { return key == urlKey })
}

func (s *fakeStore) FindByURLKeyContaining(_ context.Context, userID, urlKey string) (*model.Project, error) {
	return s.find(userID, func(key string) bool { return strings.Contains(key, urlKey) })
}

func (s *fakeStore) Insert(_ context.Context, p *model.Project, urlKey string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertFn != nil {
		if err := s.insertFn(p, urlKey); err != nil {
			return nil, err
		}
	}
	for id, row := range s.rows {
		if row.UserID == p.UserID && s.keys[id] == urlKey {
			return nil, repository.ErrDuplicateURLKey
		}
	}
	s.inserts++
	return s.addLocked(p, urlKey), nil
}

func (s *fakeStore) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteFn != nil {
		if err := s.deleteFn(id); err != nil {
			return err
		}
	}
	if p, ok := s.rows[id]; ok && p.UserID == userID {
		delete(s.rows, id)
		delete(s.keys, id)
	}
	return nil
}

func (s *fakeStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

// fakeSub は手動で変更を送れるSubscription。
type fakeSub struct {
	userID string
	events chan model.ProjectChange
	once   sync.Once
	closed chan struct{}
}

func (s *fakeSub) Events() <-chan model.ProjectChange { return s.events }

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		close(s.closed)
		close(s.events)
	})
	return nil
}

func (s *fakeSub) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// send は閉じられていなければ変更を送る。
func (s *fakeSub) send(change model.ProjectChange) {
	defer func() { _ = recover() }()
	s.events <- change
}

// fakeFeed はSubscribeの呼び出しを記録するChangeFeed。
type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeSub
	err  error
}

func (f *fakeFeed) Subscribe(_ context.Context, userID string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSub{userID: userID, events: make(chan model.ProjectChange, 16), closed: make(chan struct{})}
	f.subs = append(f.subs, s)
	return s, nil
}

func (f *fakeFeed) last() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func (f *fakeFeed) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

var errStoreDown = errors.New("connection refused")

// waitFor はcondが真になるまで待つ。
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func newSignedIn(t *testing.T, store *fakeStore, feed *fakeFeed, userID string) *Repository {
	t.Helper()
	r := NewRepository(store, feed, MatchSubstring, nil, nil)
	if err := r.SignIn(context.Background(), Session{UserID: userID, Active: true}); err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}
	return r
}

func ids(projects []model.Project) []string {
	out := make([]string, len(projects))
	for i, p := range projects {
		out[i] = p.ID
	}
	return out
}

// notifyingStore はInsert成功直後にonInsertを呼ぶStore。
type notifyingStore struct {
	*fakeStore
	onInsert func(p *model.Project)
}

func (s *notifyingStore) Insert(ctx context.Context, p *model.Project, urlKey string) (*model.Project, error) {
	inserted, err := s.fakeStore.Insert(ctx, p, urlKey)
	if err == nil && s.onInsert != nil {
		s.onInsert(inserted)
	}
	return inserted, err
}

// gatedStore はgateが設定されている間、取得結果を確定させたままListByUserIDの戻りを止める。
type gatedStore struct {
	*fakeStore
	gmu     sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

// hold は次のListByUserIDを止める。gateを閉じると再開し、enteredは停止を知らせる。
func (s *gatedStore) hold() (gate chan struct{}, entered <-chan struct{}) {
	s.gmu.Lock()
	defer s.gmu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{}, 1)
	return s.gate, s.entered
}

func (s *gatedStore) ListByUserID(ctx context.Context, userID string) ([]*model.Project, error) {
	projects, err := s.fakeStore.ListByUserID(ctx, userID)
	s.gmu.Lock()
	gate, entered := s.gate, s.entered
	s.gate = nil
	s.gmu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	return projects, err
}
