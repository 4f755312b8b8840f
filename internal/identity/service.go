// Package identity はアカウント認証とセッション管理を提供する。
//
// 電話番号+OTPとパスワード（ユーザー名またはメールアドレス）の2系統で認証し、
// 成功時にセッションを発行してトークンを返す。
package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ruralink/kaaryasetu/internal/metrics"
	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/repository"
)

const (
	// DefaultChallengeTTL はOTPの有効期間の既定値。
	DefaultChallengeTTL = 5 * time.Minute
	// DefaultMaxAttempts は1つのOTPに対する検証試行回数の上限。
	DefaultMaxAttempts = 5
	// DefaultSessionTTL はセッション有効期間の既定値。
	DefaultSessionTTL = 7 * 24 * time.Hour
	// minPasswordLength はパスワードの最小文字数。
	minPasswordLength = 6
)

// SMSSender はOTPをSMSで配信するインターフェース。
type SMSSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// LogSMSSender はOTPをログに出力するだけのSMSSender。
// SMSゲートウェイを接続しない開発環境で使用する。
type LogSMSSender struct {
	Logger *slog.Logger
}

// SendCode はOTPをログに出力する。
func (s LogSMSSender) SendCode(_ context.Context, phone, code string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("OTPを発行しました（SMS未接続）",
		slog.String("phone", phone),
		slog.String("code", code),
	)
	return nil
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	ChallengeTTL time.Duration
	MaxAttempts  int
	SessionTTL   time.Duration
	BcryptCost   int
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	accounts   repository.AccountRepository
	challenges repository.ChallengeRepository
	sessions   repository.SessionRepository
	sms        SMSSender
	tokens     *TokenIssuer
	metrics    metrics.MetricsCollector
	config     ServiceConfig

	now     func() time.Time
	genCode func() (string, error)
}

// NewService はServiceを生成する。
func NewService(
	accounts repository.AccountRepository,
	challenges repository.ChallengeRepository,
	sessions repository.SessionRepository,
	sms SMSSender,
	tokens *TokenIssuer,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if config.ChallengeTTL <= 0 {
		config.ChallengeTTL = DefaultChallengeTTL
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		accounts:   accounts,
		challenges: challenges,
		sessions:   sessions,
		sms:        sms,
		tokens:     tokens,
		metrics:    metrics.OrNop(collector),
		config:     config,
		now:        time.Now,
		genCode:    generateCode,
	}
}

// SendChallenge は電話番号宛てにOTPを発行して送信する。
func (s *Service) SendChallenge(ctx context.Context, identifier string) error {
	phone, err := NormalizePhone(identifier)
	if err != nil {
		return err
	}

	// 1. コードを生成してハッシュ化
	code, err := s.genCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash code: %w", err)
	}

	// 2. チャレンジを保存
	now := s.now()
	challenge := &model.Challenge{
		ID:         uuid.New().String(),
		Identifier: phone,
		CodeHash:   string(hash),
		ExpiresAt:  now.Add(s.config.ChallengeTTL),
		CreatedAt:  now,
	}
	if err := s.challenges.Create(ctx, challenge); err != nil {
		return fmt.Errorf("failed to save challenge: %w", err)
	}

	// 3. SMSで送信
	if err := s.sms.SendCode(ctx, phone, code); err != nil {
		return model.NewTransientError("We could not send the OTP. Please try again.")
	}

	s.metrics.RecordOTPSent()
	slog.Info("OTPを送信しました", slog.String("challenge_id", challenge.ID))
	return nil
}

// VerifyChallenge はOTPを検証し、セッションを発行する。
// 電話番号のアカウントが未作成の場合は作成し、IsNewAccountをtrueにする。
func (s *Service) VerifyChallenge(ctx context.Context, identifier, code string) (*model.AuthResult, error) {
	phone, err := NormalizePhone(identifier)
	if err != nil {
		return nil, err
	}

	// 1. 有効なチャレンジを取得
	now := s.now()
	challenge, err := s.challenges.FindLatestActive(ctx, phone, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find challenge: %w", err)
	}
	if challenge == nil {
		s.metrics.RecordAuthAttempt("otp", "rejected")
		return nil, model.NewCredentialError("Invalid OTP", "The code has expired. Please request a new one.")
	}

	// 2. 照合前に試行枠を原子的に確保する（同時リクエストでも上限を超えない）
	reserved, err := s.challenges.ReserveAttempt(ctx, challenge.ID, s.config.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve attempt: %w", err)
	}
	if !reserved {
		s.metrics.RecordAuthAttempt("otp", "rejected")
		return nil, model.NewCredentialError("Invalid OTP", "Too many attempts. Please request a new code.")
	}

	// 3. コードを照合
	if err := bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code)); err != nil {
		s.metrics.RecordAuthAttempt("otp", "rejected")
		return nil, model.NewCredentialError("Invalid OTP", "The code you entered is incorrect.")
	}

	consumed, err := s.challenges.Consume(ctx, challenge.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}
	if !consumed {
		s.metrics.RecordAuthAttempt("otp", "rejected")
		return nil, model.NewCredentialError("Invalid OTP", "The code has already been used.")
	}

	// 4. アカウントを取得または作成
	account, err := s.accounts.FindByIdentifier(ctx, model.IdentifierPhone, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	isNew := false
	if account == nil {
		account = &model.Account{
			ID:             uuid.New().String(),
			IdentifierKind: model.IdentifierPhone,
			Identifier:     phone,
			Verified:       true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.accounts.Create(ctx, account); err != nil {
			if !errors.Is(err, repository.ErrDuplicate) {
				return nil, fmt.Errorf("failed to create account: %w", err)
			}
			// 同時に作成された場合は既存のアカウントを使う
			account, err = s.accounts.FindByIdentifier(ctx, model.IdentifierPhone, phone)
			if err != nil || account == nil {
				return nil, fmt.Errorf("failed to load account after conflict: %w", err)
			}
		} else {
			isNew = true
			slog.Info("新規アカウントを作成しました",
				slog.String("account_id", account.ID),
				slog.String("identifier_kind", string(account.IdentifierKind)),
			)
		}
	}

	// 5. セッションを発行
	result, err := s.issueSession(ctx, account, isNew)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordAuthAttempt("otp", "success")
	return result, nil
}

// PasswordLogin はユーザー名またはメールアドレスとパスワードでログインする。
// 識別子の存在有無は応答から区別できないようにする。
func (s *Service) PasswordLogin(ctx context.Context, identifier, password string) (*model.AuthResult, error) {
	if password == "" {
		return nil, model.NewValidationError("password", "Missing Information", "Please enter username and password")
	}
	kind, normalized, err := classifyIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.FindByIdentifier(ctx, kind, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil || account.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		s.metrics.RecordAuthAttempt("password", "rejected")
		return nil, model.NewCredentialError("Login Failed", "Invalid login credentials")
	}

	result, err := s.issueSession(ctx, account, false)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordAuthAttempt("password", "success")
	return result, nil
}

// PasswordRegister はユーザー名またはメールアドレスとパスワードでアカウントを作成する。
// 識別子が登録済みの場合はConflictエラーを返す。
func (s *Service) PasswordRegister(ctx context.Context, identifier, password string, meta model.RegistrationMeta) (*model.AuthResult, error) {
	if len([]rune(password)) < minPasswordLength {
		return nil, model.NewValidationError("password", "Weak Password", "Password must be at least 6 characters")
	}
	if meta.Role != "" && !meta.Role.Valid() {
		return nil, model.NewValidationError("role", "Select Role", "Please choose whether you are a worker or an employer")
	}
	kind, normalized, err := classifyIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	account := &model.Account{
		ID:             uuid.New().String(),
		IdentifierKind: kind,
		Identifier:     normalized,
		PasswordHash:   string(hash),
		Verified:       kind == model.IdentifierUsername,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.metrics.RecordAuthAttempt("register", "conflict")
			return nil, model.NewIdentifierTakenError(normalized)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("新規アカウントを作成しました",
		slog.String("account_id", account.ID),
		slog.String("identifier_kind", string(kind)),
		slog.String("role", string(meta.Role)),
	)

	result, err := s.issueSession(ctx, account, true)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordAuthAttempt("register", "success")
	return result, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("ログアウトしました", slog.String("session_id", sessionID))
	return nil
}

// Authenticate はトークンを検証し、有効なセッションを返す。
// 署名が正しくてもサーバー側のセッションが失効していれば拒否する。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessions.FindActive(ctx, claims.SessionID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.AccountID != claims.AccountID {
		return nil, model.NewUnauthorizedError()
	}
	return session, nil
}

// CurrentAccount はアカウント情報を返す。
func (s *Service) CurrentAccount(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError()
	}
	return account, nil
}

// issueSession はセッションを作成し、トークンを発行する。
func (s *Service) issueSession(ctx context.Context, account *model.Account, isNew bool) (*model.AuthResult, error) {
	now := s.now()
	session := &model.Session{
		ID:        uuid.New().String(),
		AccountID: account.ID,
		ExpiresAt: now.Add(s.config.SessionTTL),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := s.tokens.Issue(session.ID, account.ID, now, session.ExpiresAt)
	if err != nil {
		return nil, err
	}

	return &model.AuthResult{
		AccountID:    account.ID,
		Token:        token,
		Identifier:   account.Identifier,
		IsNewAccount: isNew,
	}, nil
}

// generateCode は暗号論的乱数で6桁の数字コードを生成する。
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
