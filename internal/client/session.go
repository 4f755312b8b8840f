package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruralink/kaaryasetu/internal/authflow"
	"github.com/ruralink/kaaryasetu/internal/geo"
	"github.com/ruralink/kaaryasetu/internal/model"
)

// EventType はSessionが通知するイベントの種類。
type EventType string

const (
	// EventSignedIn はサインインが完了したことを表す。
	EventSignedIn EventType = "signed_in"
	// EventSignedOut はサインアウトしたことを表す。
	EventSignedOut EventType = "signed_out"
)

// Event はSessionからの通知。SignedOutではUserはnil。
type Event struct {
	Type EventType
	User *authflow.LoginSuccess
}

// TokenCache は端末にセッショントークンを保存する。
// location.Storeが実装する。
type TokenCache interface {
	LoadToken(ctx context.Context) (string, error)
	SaveToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// LocationSource は端末に保存された現在地を返す。
type LocationSource interface {
	Load(ctx context.Context) (*model.GeoPoint, error)
}

// Session はアプリケーション全体で1つだけ持つサインイン状態。
// サインイン・サインアウトを購読者に通知し、トークンを端末に保存する。
type Session struct {
	api    *APIClient
	cache  TokenCache
	logger *slog.Logger

	mu        sync.Mutex
	user      *authflow.LoginSuccess
	observers map[uint64]func(Event)
	nextID    uint64
	closed    bool
}

// NewSession はSessionを生成する。cacheがnilの場合はメモリ上にのみ保持する。
func NewSession(api *APIClient, cache TokenCache, logger *slog.Logger) *Session {
	if cache == nil {
		cache = &MemoryTokenCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		api:       api,
		cache:     cache,
		logger:    logger.With("component", "session"),
		observers: make(map[uint64]func(Event)),
	}
}

// Subscribe はサインイン・サインアウトの通知を受け取る関数を登録する。
// 返り値の購読解除関数は何度呼んでもよい。
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return func() {}
	}

	id := s.nextID
	s.nextID++
	s.observers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// User はサインイン中の利用者を返す。サインインしていない場合はnilを返す。
func (s *Session) User() *authflow.LoginSuccess {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// NewFlow はこのSessionにサインイン結果を反映するauthflow.Flowを生成する。
// cfg.OnEventは従来どおり呼ばれる。
func (s *Session) NewFlow(cfg authflow.Config) *authflow.Flow {
	onEvent := cfg.OnEvent
	cfg.OnEvent = func(ev authflow.Event) {
		if ev.Type == authflow.EventLoginSucceeded && ev.Login != nil {
			s.signIn(*ev.Login)
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}
	return authflow.New(cfg, s.api, s.api)
}

// Resume は端末に保存されたトークンでサインイン状態を復元する。
// 復元できた場合はtrueを返す。トークンが無効になっていた場合は削除してfalseを返す。
func (s *Session) Resume(ctx context.Context) (bool, error) {
	// 1. 保存済みトークンの読み込み
	token, err := s.cache.LoadToken(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load cached token: %w", err)
	}
	if token == "" {
		return false, nil
	}

	// 2. 現在のアカウントとプロフィールを取得
	s.api.SetToken(token)
	me, err := s.api.Me(ctx)
	if err != nil {
		if model.IsKind(err, model.KindCredential) {
			s.logger.Info("cached session is no longer valid")
			s.api.SetToken("")
			if clearErr := s.cache.ClearToken(ctx); clearErr != nil {
				return false, fmt.Errorf("failed to clear cached token: %w", clearErr)
			}
			return false, nil
		}
		return false, fmt.Errorf("failed to resume session: %w", err)
	}

	// 3. 利用者情報の組み立て（プロフィール未作成の場合は識別子を表示名にする）
	user := authflow.LoginSuccess{
		AccountID:   me.Account.ID,
		Token:       token,
		DisplayName: me.Account.Identifier,
		Contact:     me.Account.Identifier,
	}
	if me.Profile != nil {
		profile := me.Profile.Model()
		user.Role = profile.Role
		user.DisplayName = profile.DisplayName
		if contact := profile.Contact(); contact != "" {
			user.Contact = contact
		}
	}

	s.setUser(&user, EventSignedIn)
	return true, nil
}

// SignOut はサーバー側のセッションを破棄し、端末のトークンとキャッシュした利用者情報を消去する。
// サーバー呼び出しの失敗はログに残すだけで、端末側の消去とSignedOutの通知は必ず行う。
func (s *Session) SignOut(ctx context.Context) error {
	if err := s.api.Logout(ctx); err != nil {
		s.logger.Warn("remote sign-out failed", slog.String("error", err.Error()))
	}

	cacheErr := s.cache.ClearToken(ctx)
	s.setUser(nil, EventSignedOut)

	if cacheErr != nil {
		return fmt.Errorf("failed to clear cached token: %w", cacheErr)
	}
	return nil
}

// NearbyJobs は端末に保存された現在地から近い順に求人を返す。
// 現在地が未保存の場合は新しい順の一覧を距離なしで返す。
func (s *Session) NearbyJobs(ctx context.Context, locations LocationSource) ([]geo.RankedJob, error) {
	var origin *model.GeoPoint
	if locations != nil {
		p, err := locations.Load(ctx)
		if err != nil {
			s.logger.Warn("failed to load cached location", slog.String("error", err.Error()))
		}
		origin = p
	}

	if origin != nil {
		return s.api.ListNearbyJobs(ctx, *origin)
	}

	jobs, err := s.api.ListOpenJobs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]geo.RankedJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, geo.RankedJob{Job: j})
	}
	return out, nil
}

// Close は全ての購読を解除する。Close後のSubscribeは何も登録しない。
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.observers = make(map[uint64]func(Event))
}

// signIn はフローのサインイン結果を反映し、トークンを保存する。
// authflowのOnEventから呼ばれるため、Flowのメソッドを呼んではならない。
func (s *Session) signIn(login authflow.LoginSuccess) {
	s.api.SetToken(login.Token)
	if err := s.cache.SaveToken(context.Background(), login.Token); err != nil {
		s.logger.Warn("failed to cache session token", slog.String("error", err.Error()))
	}
	s.setUser(&login, EventSignedIn)
}

// setUser は利用者情報を更新し、ロックの外で購読者に通知する。
func (s *Session) setUser(user *authflow.LoginSuccess, typ EventType) {
	s.mu.Lock()
	s.user = user
	observers := make([]func(Event), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	ev := Event{Type: typ}
	if user != nil {
		u := *user
		ev.User = &u
	}
	for _, fn := range observers {
		fn(ev)
	}
}

// MemoryTokenCache はメモリ上にのみトークンを保持するTokenCache。
type MemoryTokenCache struct {
	mu    sync.Mutex
	token string
}

func (c *MemoryTokenCache) LoadToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

func (c *MemoryTokenCache) SaveToken(ctx context.Context, token string) error {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

func (c *MemoryTokenCache) ClearToken(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return nil
}
