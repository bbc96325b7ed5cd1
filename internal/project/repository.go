package project

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/seoman/internal/metrics"
	"github.com/hitoshi/seoman/internal/model"
	"github.com/hitoshi/seoman/internal/repository"
)

const (
	// maxNameLength はプロジェクト名の最大文字数。
	maxNameLength = 100
	// maxURLLength はURLの最大バイト数。
	maxURLLength = 2048
	// maxListItems はservicesとtarget_audienceの各配列の最大要素数。
	maxListItems = 20
	// maxItemLength は配列要素1つの最大文字数。
	maxItemLength = 100
	// maxRowBytes は保存する行のJSON表現の上限。
	// 変更通知は行全体をNOTIFYのペイロード(8000バイト未満)に載せるため、この範囲に収める。
	maxRowBytes = 6000
	// resyncTimeout は再同期時の全件再取得のタイムアウト。
	resyncTimeout = 10 * time.Second
	// watchBuffer はWatchチャネルのバッファ数。
	watchBuffer = 32
)

// Store はプロジェクトの永続化先。repository.PostgresProjectRepoが実装する。
type Store interface {
	ListByUserID(ctx context.Context, userID string) ([]*model.Project, error)
	FindByURLKey(ctx context.Context, userID, urlKey string) (*model.Project, error)
	FindByURLKeyContaining(ctx context.Context, userID, urlKey string) (*model.Project, error)
	Insert(ctx context.Context, project *model.Project, urlKey string) (*model.Project, error)
	Delete(ctx context.Context, userID, id string) error
}

// ChangeFeed はユーザー単位の変更通知を購読する手段。
type ChangeFeed interface {
	Subscribe(ctx context.Context, userID string) (Subscription, error)
}

// Subscription は1ユーザー分の変更通知の購読。
// Closeの後、Eventsのチャネルは閉じられる。
type Subscription interface {
	Events() <-chan model.ProjectChange
	Close() error
}

// Session はミラーが対象とするログイン状態。
type Session struct {
	UserID string
	Active bool
}

// Repository はログインセッションごとのプロジェクト一覧ミラー。
// 永続化はStoreに委ね、初回の全件取得と変更通知の適用で一覧を最新に保つ。
type Repository struct {
	store   Store
	feed    ChangeFeed
	mode    MatchMode
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	mu         sync.Mutex
	session    Session
	gen        uint64
	cache      map[string]*model.Project
	tombstones map[string]struct{}
	sub        Subscription
	watchers   map[int]chan model.ProjectChange
	nextWatch  int

	// 全件取得の実行中に適用した追加・更新。取得結果に重ねてから差し替える
	refreshing int
	journal    []model.Project
}

// NewRepository はサインイン前の空のRepositoryを生成する。
func NewRepository(store Store, feed ChangeFeed, mode MatchMode, collector metrics.MetricsCollector, logger *slog.Logger) *Repository {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if mode == "" {
		mode = MatchSubstring
	}
	return &Repository{
		store:      store,
		feed:       feed,
		mode:       mode,
		metrics:    collector,
		logger:     logger,
		cache:      make(map[string]*model.Project),
		tombstones: make(map[string]struct{}),
		watchers:   make(map[int]chan model.ProjectChange),
	}
}

// SignIn はセッションを切り替え、全件取得と変更通知の購読をやり直す。
// 以前の購読は新しい購読を開く前に必ず閉じる。
// 購読の開始に失敗してもエラーにはせず、取得済みの一覧で動作を続ける。
func (r *Repository) SignIn(ctx context.Context, session Session) error {
	r.mu.Lock()
	r.resetLocked(session)
	gen := r.gen
	r.mu.Unlock()

	if !session.Active || session.UserID == "" {
		return model.NewUnauthenticatedError()
	}

	// 購読を先に開き、全件取得との間の変更を取りこぼさない
	var sub Subscription
	if r.feed != nil {
		s, err := r.feed.Subscribe(ctx, session.UserID)
		if err != nil {
			r.logger.Warn("変更通知の購読に失敗しました。取得済みの一覧で継続します",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		} else {
			sub = s
		}
	}

	if sub != nil {
		r.mu.Lock()
		if r.gen != gen {
			// 購読中に別のサインイン/サインアウトが走った
			r.mu.Unlock()
			sub.Close()
			return nil
		}
		r.sub = sub
		r.mu.Unlock()
	}

	err := r.refresh(ctx, gen)

	if sub != nil {
		go r.pump(gen, sub)
	}
	return err
}

// SignOut は購読を閉じ、一覧とセッションを破棄する。
func (r *Repository) SignOut() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked(Session{})
}

// resetLocked は購読とWatchを閉じ、世代を進めて状態を初期化する。
func (r *Repository) resetLocked(session Session) {
	if r.sub != nil {
		if err := r.sub.Close(); err != nil {
			r.logger.Warn("変更通知の購読解除に失敗しました", slog.String("error", err.Error()))
		}
		r.sub = nil
	}
	for id, ch := range r.watchers {
		close(ch)
		delete(r.watchers, id)
	}
	r.gen++
	r.session = session
	r.cache = make(map[string]*model.Project)
	r.tombstones = make(map[string]struct{})
	r.refreshing = 0
	r.journal = nil
}

// Session は現在のセッションを返す。
func (r *Repository) Session() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// List はキャッシュ済みのプロジェクトをcreated_at降順で返す。
// 初回取得が終わる前は空のスライスを返す。
func (r *Repository) List() []model.Project {
	r.mu.Lock()
	projects := make([]model.Project, 0, len(r.cache))
	for _, p := range r.cache {
		projects = append(projects, *p)
	}
	r.mu.Unlock()

	sort.Slice(projects, func(i, j int) bool {
		a, b := projects[i], projects[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return projects
}

// Create は重複を確認したうえでプロジェクトを作成し、作成された行を返す。
// 最終的な重複判定はStoreの一意制約に従う。
func (r *Repository) Create(ctx context.Context, draft model.NewProjectDraft) (*model.Project, error) {
	r.mu.Lock()
	session, gen := r.session, r.gen
	r.mu.Unlock()

	if !session.Active || session.UserID == "" {
		return nil, model.NewUnauthenticatedError()
	}

	name := strings.TrimSpace(draft.Name)
	rawURL := strings.TrimSpace(draft.URL)
	if name == "" {
		return nil, model.NewInvalidProjectError("プロジェクト名が空です")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, model.NewInvalidProjectError("プロジェクト名が長すぎます")
	}
	if len(rawURL) > maxURLLength {
		return nil, model.NewInvalidProjectError("URLが長すぎます")
	}
	key := NormalizeURL(rawURL)
	if key == "" {
		return nil, model.NewInvalidProjectError("URLが空です")
	}
	if err := validateLists(draft); err != nil {
		return nil, err
	}

	existing, err := r.findExisting(ctx, session.UserID, key)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if existing != nil {
		r.metrics.RecordProjectDuplicate()
		return nil, model.NewDuplicateProjectError(rawURL)
	}

	record := buildRecord(session.UserID, name, rawURL, draft)
	if raw, err := json.Marshal(record); err != nil || len(raw)+len(key) > maxRowBytes {
		return nil, model.NewInvalidProjectError("入力の合計サイズが大きすぎます")
	}
	inserted, err := r.store.Insert(ctx, record, key)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateURLKey) {
			r.metrics.RecordProjectDuplicate()
			return nil, model.NewDuplicateProjectError(rawURL)
		}
		return nil, model.NewStoreUnavailableError(err)
	}
	r.metrics.RecordProjectCreated()

	r.mu.Lock()
	if r.gen == gen {
		r.applyLocked(model.ProjectChange{Type: model.ChangeInsert, Project: *inserted})
	}
	r.mu.Unlock()

	created := *inserted
	return &created, nil
}

// validateLists はservicesとtarget_audienceの各配列の件数と要素の長さを検証する。
func validateLists(draft model.NewProjectDraft) error {
	lists := map[string][]string{
		"services":                  draft.Services,
		"target_audience.gender":    draft.TargetAudience.Gender,
		"target_audience.languages": draft.TargetAudience.Languages,
		"target_audience.location":  draft.TargetAudience.Location,
		"target_audience.industry":  draft.TargetAudience.Industry,
	}
	for field, values := range lists {
		if len(values) > maxListItems {
			return model.NewInvalidProjectError(field + "の件数が多すぎます")
		}
		for _, v := range values {
			if utf8.RuneCountInString(v) > maxItemLength {
				return model.NewInvalidProjectError(field + "の要素が長すぎます")
			}
		}
	}
	return nil
}

func (r *Repository) findExisting(ctx context.Context, userID, key string) (*model.Project, error) {
	if r.mode == MatchExact {
		return r.store.FindByURLKey(ctx, userID, key)
	}
	return r.store.FindByURLKeyContaining(ctx, userID, key)
}

// buildRecord は作成フォームの入力を保存用の行に変換する。
// フォーム上のindustryは先頭要素のみをトップレベルに昇格し、target_audienceからは外す。
func buildRecord(userID, name, rawURL string, draft model.NewProjectDraft) *model.Project {
	industry := model.IndustryOther
	if len(draft.TargetAudience.Industry) > 0 {
		industry = model.CoerceIndustry(draft.TargetAudience.Industry[0])
	}
	return &model.Project{
		UserID:   userID,
		Name:     name,
		URL:      rawURL,
		Industry: industry,
		Services: nonNil(draft.Services),
		TargetAudience: model.TargetAudience{
			Gender:    nonNil(draft.TargetAudience.Gender),
			Languages: nonNil(draft.TargetAudience.Languages),
			Location:  nonNil(draft.TargetAudience.Location),
		},
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

// Delete はプロジェクトを削除し、キャッシュからも取り除く。
// 存在しないIDの削除もエラーにしない。
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	session, gen := r.session, r.gen
	r.mu.Unlock()

	if !session.Active || session.UserID == "" {
		return model.NewUnauthenticatedError()
	}

	if err := r.store.Delete(ctx, session.UserID, id); err != nil {
		return model.NewStoreUnavailableError(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return nil
	}
	if r.applyLocked(model.ProjectChange{
		Type:    model.ChangeDelete,
		Project: model.Project{ID: id, UserID: session.UserID},
	}) {
		r.metrics.RecordProjectDeleted()
	}
	return nil
}

// Refresh はStoreから全件を取り直してキャッシュを置き換える。
func (r *Repository) Refresh(ctx context.Context) error {
	r.mu.Lock()
	gen, active := r.gen, r.session.Active
	r.mu.Unlock()
	if !active {
		return model.NewUnauthenticatedError()
	}
	return r.refresh(ctx, gen)
}

func (r *Repository) refresh(ctx context.Context, gen uint64) error {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return nil
	}
	userID := r.session.UserID
	r.refreshing++
	start := len(r.journal)
	r.mu.Unlock()

	projects, err := r.store.ListByUserID(ctx, userID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return nil
	}
	applied := r.journal[start:]
	r.refreshing--
	if r.refreshing == 0 {
		r.journal = nil
	}
	if err != nil {
		return model.NewStoreUnavailableError(err)
	}

	cache := make(map[string]*model.Project, len(projects))
	for _, p := range projects {
		if p == nil || p.UserID != userID {
			continue
		}
		if _, deleted := r.tombstones[p.ID]; deleted {
			continue
		}
		cp := *p
		cache[p.ID] = &cp
	}
	// 取得中に反映した行は取得結果より新しければ残す
	for _, p := range applied {
		if _, deleted := r.tombstones[p.ID]; deleted {
			continue
		}
		if existing := cache[p.ID]; existing != nil && existing.UpdatedAt.After(p.UpdatedAt) {
			continue
		}
		cp := p
		cache[p.ID] = &cp
	}
	r.cache = cache
	r.notifyLocked(model.ProjectChange{Type: model.ChangeResync})
	return nil
}

// Apply は変更通知を現在のキャッシュに適用する。
// 同じ通知を何度適用しても結果は変わらず、別ユーザーの通知は捨てる。
// resyncは非同期の全件再取得を起動する。
func (r *Repository) Apply(change model.ProjectChange) {
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()
	r.applyGen(gen, change)
}

func (r *Repository) applyGen(gen uint64, change model.ProjectChange) {
	if change.Type == model.ChangeResync {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
			defer cancel()
			if err := r.refresh(ctx, gen); err != nil {
				r.logger.Warn("再同期に失敗しました", slog.String("error", err.Error()))
			}
		}()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return
	}
	r.applyLocked(change)
}

// applyLocked は変更をキャッシュに反映し、変化があった場合はtrueを返す。
func (r *Repository) applyLocked(change model.ProjectChange) bool {
	if !r.session.Active || change.Project.UserID != r.session.UserID || change.Project.ID == "" {
		return false
	}
	p := change.Project
	existing := r.cache[p.ID]

	switch change.Type {
	case model.ChangeInsert:
		if _, deleted := r.tombstones[p.ID]; deleted {
			return false
		}
		if existing != nil && !p.UpdatedAt.After(existing.UpdatedAt) {
			return false
		}
	case model.ChangeUpdate:
		if existing == nil || p.UpdatedAt.Before(existing.UpdatedAt) {
			return false
		}
	case model.ChangeDelete:
		r.tombstones[p.ID] = struct{}{}
		if existing == nil {
			return false
		}
		delete(r.cache, p.ID)
		r.notifyLocked(change)
		return true
	default:
		return false
	}

	cp := p
	r.cache[p.ID] = &cp
	if r.refreshing > 0 {
		r.journal = append(r.journal, p)
	}
	r.notifyLocked(change)
	return true
}

// pump は購読から届く変更を世代genのキャッシュに適用し続ける。
func (r *Repository) pump(gen uint64, sub Subscription) {
	for change := range sub.Events() {
		r.applyGen(gen, change)
	}
}

// Watch は適用済みの変更を受け取るチャネルと解除関数を返す。
// セッションの切り替えやバッファ溢れでチャネルは閉じられる。
func (r *Repository) Watch() (<-chan model.ProjectChange, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan model.ProjectChange, watchBuffer)
	if !r.session.Active {
		close(ch)
		return ch, func() {}
	}

	id := r.nextWatch
	r.nextWatch++
	r.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if w, ok := r.watchers[id]; ok {
				close(w)
				delete(r.watchers, id)
			}
		})
	}
}

// Watching はWatch中の購読者数を返す。
func (r *Repository) Watching() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

func (r *Repository) notifyLocked(change model.ProjectChange) {
	for id, ch := range r.watchers {
		select {
		case ch <- change:
		default:
			// 読み出しが追いつかない購読者は切断し、再接続で全件を受け取らせる
			close(ch)
			delete(r.watchers, id)
		}
	}
}
