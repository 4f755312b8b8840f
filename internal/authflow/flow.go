package authflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ruralink/kaaryasetu/internal/model"
)

// DefaultProfileResolveTimeout はログイン後のプロフィール取得を待つ上限時間。
// 超過した場合はロール選択のフォールバックに切り替える。
const DefaultProfileResolveTimeout = 5 * time.Second

var (
	// ErrInvalidTransition は現在の状態では受け付けない操作であることを示す。
	ErrInvalidTransition = errors.New("authflow: operation not allowed in current state")
	// ErrBusy はリモート呼び出しの応答待ち中であることを示す。
	ErrBusy = errors.New("authflow: request already in flight")
	// ErrWrongVariant はVariantが対応していない操作であることを示す。
	ErrWrongVariant = errors.New("authflow: operation not supported by variant")
)

// Config はFlowの設定。
type Config struct {
	Variant               Variant
	ProfileResolveTimeout time.Duration
	Clock                 Clock
	// OnEvent はフローからの通知を受け取る。
	// Flowのロックを保持したまま呼び出されるため、OnEventの中からFlowのメソッドを呼んではならない。
	OnEvent func(Event)
	Logger  *slog.Logger
}

// Flow はログイン・新規登録の1回分の試行を管理する状態機械。
//
// 状態遷移:
//
//	Idle --SubmitIdentifier--> AwaitingChallenge --SubmitCode--> VerifyingChallenge
//	Idle --SubmitCredentials--> VerifyingChallenge
//	VerifyingChallenge --成功(登録/新規アカウント)--> AwaitingProfileCompletion
//	VerifyingChallenge --成功(ログイン)--> ResolvingProfile
//	VerifyingChallenge --失敗--> Failed --> Idle
//	ResolvingProfile --期限内にプロフィール取得--> Authenticated
//	ResolvingProfile --期限超過--> RoleSelectionFallback --PickRole--> Authenticated
//	AwaitingProfileCompletion --CompleteProfile--> Authenticated
//
// リモート呼び出しはゴルーチンで実行し、応答は世代番号で照合する。
// Closeで世代が進むため、Close後に届いた応答は状態を変更しない。
type Flow struct {
	variant  Variant
	timeout  time.Duration
	clock    Clock
	onEvent  func(Event)
	logger   *slog.Logger
	identity IdentityService
	profiles ProfileStore

	mu         sync.Mutex
	state      State
	mode       Mode
	role       model.Role
	identifier string
	result     *model.AuthResult
	busy       bool
	gen        uint64
	ctx        context.Context
	cancel     context.CancelFunc
	timer      Timer

	inflight sync.WaitGroup
}

// New は新しいFlowを生成する。
func New(cfg Config, identity IdentityService, profiles ProfileStore) *Flow {
	if cfg.ProfileResolveTimeout <= 0 {
		cfg.ProfileResolveTimeout = DefaultProfileResolveTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	f := &Flow{
		variant:  cfg.Variant,
		timeout:  cfg.ProfileResolveTimeout,
		clock:    cfg.Clock,
		onEvent:  cfg.OnEvent,
		logger:   cfg.Logger.With("component", "authflow", "variant", cfg.Variant.String()),
		identity: identity,
		profiles: profiles,
		state:    StateIdle,
		mode:     ModeLogin,
		role:     model.RoleWorker,
	}
	f.ctx, f.cancel = context.WithCancel(context.Background())
	return f
}

// Variant はフローの認証方式を返す。
func (f *Flow) Variant() Variant {
	return f.variant
}

// State は現在の状態を返す。
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Mode は現在のモードを返す。
func (f *Flow) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// SelectMode はログインか新規登録かを選択する。
// 新規登録ではroleに労働者か雇用主を指定する。Idle状態でのみ受け付ける。
func (f *Flow) SelectMode(mode Mode, role model.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateIdle || f.busy {
		return ErrInvalidTransition
	}
	if mode != ModeLogin && mode != ModeRegister {
		return model.NewValidationError("mode", "Invalid Mode", "Please choose login or register")
	}
	if mode == ModeRegister && !role.Valid() {
		return model.NewValidationError("role", "Select Role", "Please choose whether you are a worker or an employer")
	}

	f.mode = mode
	if role.Valid() {
		f.role = role
	}
	return nil
}

// SubmitIdentifier は電話番号を受け付け、OTPの送信を開始する。
// 入力が不正な場合はリモート呼び出しを行わずにバリデーションエラーを返す。
func (f *Flow) SubmitIdentifier(identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.variant.UsesChallenge() {
		return ErrWrongVariant
	}
	if f.busy {
		return ErrBusy
	}
	if f.state != StateIdle {
		return ErrInvalidTransition
	}

	identifier = strings.TrimSpace(identifier)
	if apiErr := ValidatePhone(identifier); apiErr != nil {
		return apiErr
	}

	f.identifier = identifier
	f.busy = true
	gen, ctx := f.gen, f.ctx

	f.goAsync(func() {
		err := f.identity.SendChallenge(ctx, identifier)

		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.liveLocked(gen) {
			return
		}
		f.busy = false
		if err != nil {
			f.logger.Warn("OTP送信に失敗しました", slog.String("error", err.Error()))
			f.failLocked(err)
			return
		}
		f.setStateLocked(StateAwaitingChallenge)
		f.emitLocked(Event{Type: EventChallengeSent})
	})
	return nil
}

// SubmitCode は確認コードを受け付け、検証を開始する。
func (f *Flow) SubmitCode(code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.variant.UsesChallenge() {
		return ErrWrongVariant
	}
	if f.busy {
		return ErrBusy
	}
	if f.state != StateAwaitingChallenge {
		return ErrInvalidTransition
	}

	code = strings.TrimSpace(code)
	if apiErr := ValidateOTP(code); apiErr != nil {
		return apiErr
	}

	f.busy = true
	f.setStateLocked(StateVerifyingChallenge)
	gen, ctx, identifier := f.gen, f.ctx, f.identifier

	f.goAsync(func() {
		result, err := f.identity.VerifyChallenge(ctx, identifier, code)
		f.onVerified(gen, result, err)
	})
	return nil
}

// SubmitCredentials はパスワード方式のログイン・新規登録を開始する。
// 入力が不正な場合はリモート呼び出しを行わずにバリデーションエラーを返す。
func (f *Flow) SubmitCredentials(c Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.variant.UsesChallenge() {
		return ErrWrongVariant
	}
	if f.busy {
		return ErrBusy
	}
	if f.state != StateIdle {
		return ErrInvalidTransition
	}

	c.Identifier = strings.TrimSpace(c.Identifier)
	if apiErr := ValidateCredentials(f.variant, f.mode, c); apiErr != nil {
		return apiErr
	}

	f.identifier = c.Identifier
	f.busy = true
	f.setStateLocked(StateVerifyingChallenge)
	gen, ctx, mode := f.gen, f.ctx, f.mode
	meta := model.RegistrationMeta{Role: f.role, DisplayName: strings.TrimSpace(c.DisplayName)}

	f.goAsync(func() {
		var (
			result *model.AuthResult
			err    error
		)
		if mode == ModeRegister {
			result, err = f.identity.PasswordRegister(ctx, c.Identifier, c.Password, meta)
		} else {
			result, err = f.identity.PasswordLogin(ctx, c.Identifier, c.Password)
		}
		f.onVerified(gen, result, err)
	})
	return nil
}

// PickRole はプロフィール取得がタイムアウトした後にロールを選択し、ログインを完了する。
func (f *Flow) PickRole(role model.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateRoleSelectionFallback {
		return ErrInvalidTransition
	}
	if !role.Valid() {
		return model.NewValidationError("role", "Select Role", "Please choose whether you are a worker or an employer")
	}

	f.succeedLocked(LoginSuccess{
		Role:        role,
		DisplayName: f.identifier,
		Contact:     f.identifierContact(),
	})
	return nil
}

// CompleteProfile はプロフィールを作成し、ログインを完了する。
// 新規登録ではSelectModeで選んだロールを使用する。
// 作成に失敗した場合はFailedを通知し、再入力できるよう状態を維持する。
func (f *Flow) CompleteProfile(fields model.ProfileFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busy {
		return ErrBusy
	}
	if f.state != StateAwaitingProfileCompletion {
		return ErrInvalidTransition
	}

	if f.mode == ModeRegister {
		fields.Role = f.role
	}
	switch f.variant {
	case PhoneOTP:
		if fields.Phone == "" {
			fields.Phone = f.identifier
		}
	case EmailPassword:
		if fields.Email == "" {
			fields.Email = f.identifier
		}
	}
	if apiErr := ValidateProfileFields(fields); apiErr != nil {
		return apiErr
	}

	f.busy = true
	gen, ctx, accountID := f.gen, f.ctx, f.result.AccountID

	f.goAsync(func() {
		profile, err := f.profiles.CreateProfile(ctx, accountID, fields)

		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.liveLocked(gen) || f.state != StateAwaitingProfileCompletion {
			return
		}
		f.busy = false
		if err != nil {
			f.logger.Warn("プロフィール作成に失敗しました",
				slog.String("account_id", accountID),
				slog.String("error", err.Error()),
			)
			f.emitLocked(Event{Type: EventFailed, Err: model.Classify(err)})
			return
		}
		f.succeedLocked(f.successFromProfile(profile))
	})
	return nil
}

// Close は試行を中断して初期状態に戻す。
// 応答待ちのリモート呼び出しはキャンセルされ、その結果は状態に反映されない。
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopTimerLocked()
	f.cancel()
	f.gen++
	f.ctx, f.cancel = context.WithCancel(context.Background())

	f.state = StateIdle
	f.mode = ModeLogin
	f.role = model.RoleWorker
	f.identifier = ""
	f.result = nil
	f.busy = false
}

func (f *Flow) onVerified(gen uint64, result *model.AuthResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.liveLocked(gen) || f.state != StateVerifyingChallenge {
		return
	}
	f.busy = false

	if err == nil && result == nil {
		err = model.NewTransientError("")
	}
	if err != nil {
		f.logger.Info("認証に失敗しました", slog.String("error", err.Error()))
		f.failLocked(err)
		return
	}

	f.result = result
	if f.mode == ModeRegister || result.IsNewAccount {
		f.setStateLocked(StateAwaitingProfileCompletion)
		return
	}
	f.startResolvingLocked()
}

// startResolvingLocked はプロフィール取得とタイムアウトの競争を開始する。
// 先に到着した方だけが状態を進める。
func (f *Flow) startResolvingLocked() {
	f.setStateLocked(StateResolvingProfile)

	gen, ctx, accountID := f.gen, f.ctx, f.result.AccountID
	f.timer = f.clock.AfterFunc(f.timeout, func() {
		f.onResolveTimeout(gen)
	})

	f.goAsync(func() {
		profile, err := f.profiles.FetchProfile(ctx, accountID)
		f.onProfile(gen, profile, err)
	})
}

func (f *Flow) onResolveTimeout(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.liveLocked(gen) || f.state != StateResolvingProfile {
		return
	}
	f.timer = nil
	f.logger.Info("プロフィール取得がタイムアウトしました", slog.Duration("timeout", f.timeout))
	f.setStateLocked(StateRoleSelectionFallback)
}

func (f *Flow) onProfile(gen uint64, profile *model.Profile, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.liveLocked(gen) || f.state != StateResolvingProfile {
		if err == nil && profile != nil {
			f.logger.Debug("タイムアウト後に届いたプロフィールを破棄しました")
		}
		return
	}

	if err != nil || profile == nil {
		if err == nil || model.IsKind(err, model.KindNotFound) {
			f.stopTimerLocked()
			f.setStateLocked(StateAwaitingProfileCompletion)
			return
		}
		// 一時的なエラーはタイムアウトに委ねる
		f.logger.Warn("プロフィール取得に失敗しました", slog.String("error", err.Error()))
		return
	}

	if !profile.Role.Valid() {
		f.logger.Warn("プロフィールのロールが不正です", slog.String("role", string(profile.Role)))
		return
	}

	f.stopTimerLocked()
	f.succeedLocked(f.successFromProfile(profile))
}

func (f *Flow) successFromProfile(p *model.Profile) LoginSuccess {
	s := LoginSuccess{
		Role:        p.Role,
		DisplayName: p.DisplayName,
		Contact:     p.Contact(),
	}
	if s.DisplayName == "" {
		s.DisplayName = f.identifier
	}
	if s.Contact == "" {
		s.Contact = f.identifierContact()
	}
	return s
}

// succeedLocked はAuthenticatedに遷移し、ログイン完了を1度だけ通知する。
func (f *Flow) succeedLocked(s LoginSuccess) {
	if f.result != nil {
		s.AccountID = f.result.AccountID
		s.Token = f.result.Token
		s.NewAccount = f.result.IsNewAccount
	}
	f.stopTimerLocked()
	f.setStateLocked(StateAuthenticated)
	f.emitLocked(Event{Type: EventLoginSucceeded, Login: &s})
}

// failLocked はFailedを通知した後、入力を破棄してIdleに戻す。
func (f *Flow) failLocked(err error) {
	f.stopTimerLocked()
	f.setStateLocked(StateFailed)
	f.emitLocked(Event{Type: EventFailed, Err: model.Classify(err)})

	f.identifier = ""
	f.result = nil
	f.busy = false
	f.setStateLocked(StateIdle)
}

func (f *Flow) identifierContact() string {
	if f.variant == UsernamePassword {
		return ""
	}
	return f.identifier
}

// goAsync はリモート呼び出しをゴルーチンで実行する。
func (f *Flow) goAsync(fn func()) {
	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()
		fn()
	}()
}

// Wait は実行中のリモート呼び出しがすべて戻るまで待つ。
// Close後に呼ぶと、キャンセルされた呼び出しの終了を待てる。
func (f *Flow) Wait() {
	f.inflight.Wait()
}

func (f *Flow) liveLocked(gen uint64) bool {
	return gen == f.gen
}

func (f *Flow) stopTimerLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *Flow) setStateLocked(s State) {
	if f.state == s {
		return
	}
	f.state = s
	f.emitLocked(Event{Type: EventStateChanged})
}

func (f *Flow) emitLocked(ev Event) {
	if f.onEvent == nil {
		return
	}
	ev.State = f.state
	f.onEvent(ev)
}
