package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ruralink/kaaryasetu/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	OTPRate         rate.Limit    // OTP送信のレート（req/sec）。5/600
	OTPBurst        int           // OTP送信のバーストサイズ
	CredentialRate  rate.Limit    // OTP検証・ログイン・登録のレート（req/sec）。30/600
	CredentialBurst int           // OTP検証・ログイン・登録のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔

	// TrustedProxies はX-Forwarded-Forを付与するリバースプロキシの範囲。
	// 空の場合はX-Forwarded-Forを無視し、接続元アドレスを使う。
	TrustedProxies []netip.Prefix
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/account、OTP送信 5 req/10min/IP、認証情報の検証 30 req/10min/IP
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    120,
		OTPRate:         rate.Limit(5.0 / 600.0), // 1 req/2min
		OTPBurst:        5,
		CredentialRate:  rate.Limit(30.0 / 600.0), // 1 req/20sec
		CredentialBurst: 30,
		CleanupInterval: 5 * time.Minute,
	}
}

// keyLimiter はキー（アカウントIDまたはIPアドレス）ごとのレートリミッターとアクセス時刻を保持する。
type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter はキーごとのレート制限を管理する。
// アカウント単位のAPI全般のレート制限と、IPアドレス単位のOTP送信・認証情報検証のレート制限を提供する。
type RateLimiter struct {
	config RateLimiterConfig

	generalMu       sync.RWMutex
	generalLimiters map[string]*keyLimiter

	otpMu       sync.RWMutex
	otpLimiters map[string]*keyLimiter

	credMu       sync.RWMutex
	credLimiters map[string]*keyLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:          config,
		generalLimiters: make(map[string]*keyLimiter),
		otpLimiters:     make(map[string]*keyLimiter),
		credLimiters:    make(map[string]*keyLimiter),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストにアカウントIDが含まれている必要がある（SessionMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, err := AccountIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			limiter := rl.getOrCreate(&rl.generalMu, rl.generalLimiters, accountID, rl.config.GeneralRate, rl.config.GeneralBurst)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("account_id", accountID),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OTPMiddleware はOTP送信専用のレート制限ミドルウェアを返す。
// 未認証のリクエストに適用するため、クライアントのIPアドレスをキーにする。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) OTPMiddleware() func(next http.Handler) http.Handler {
	return rl.perIPMiddleware("otp", &rl.otpMu, rl.otpLimiters, rl.config.OTPRate, rl.config.OTPBurst)
}

// CredentialMiddleware はOTP検証・パスワードログイン・登録のレート制限ミドルウェアを返す。
// OTP送信とは別の枠で、クライアントのIPアドレスをキーにする。
func (rl *RateLimiter) CredentialMiddleware() func(next http.Handler) http.Handler {
	return rl.perIPMiddleware("credential", &rl.credMu, rl.credLimiters, rl.config.CredentialRate, rl.config.CredentialBurst)
}

func (rl *RateLimiter) perIPMiddleware(limitType string, mu *sync.RWMutex, limiters map[string]*keyLimiter, r rate.Limit, burst int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ip := ClientIP(req, rl.config.TrustedProxies)

			if !rl.getOrCreate(mu, limiters, ip, r, burst).Allow() {
				writeRateLimitResponse(w, r)
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", limitType),
				)
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	rl.generalMu.RLock()
	defer rl.generalMu.RUnlock()
	return len(rl.generalLimiters)
}

// OTPLimiterCount は現在管理されているOTP送信リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) OTPLimiterCount() int {
	rl.otpMu.RLock()
	defer rl.otpMu.RUnlock()
	return len(rl.otpLimiters)
}

// CredentialLimiterCount は現在管理されている認証情報検証リミッターのエントリ数を返す。
func (rl *RateLimiter) CredentialLimiterCount() int {
	rl.credMu.RLock()
	defer rl.credMu.RUnlock()
	return len(rl.credLimiters)
}

// getOrCreate はキーのリミッターを取得または作成する。
func (rl *RateLimiter) getOrCreate(mu *sync.RWMutex, limiters map[string]*keyLimiter, key string, r rate.Limit, burst int) *rate.Limiter {
	mu.RLock()
	kl, exists := limiters[key]
	mu.RUnlock()

	if exists {
		mu.Lock()
		kl.lastAccess = time.Now()
		mu.Unlock()
		return kl.limiter
	}

	mu.Lock()
	defer mu.Unlock()

	// ダブルチェック
	if kl, exists := limiters[key]; exists {
		kl.lastAccess = time.Now()
		return kl.limiter
	}

	limiter := rate.NewLimiter(r, burst)
	limiters[key] = &keyLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()

	prune(&rl.generalMu, rl.generalLimiters, now, ttl)
	prune(&rl.otpMu, rl.otpLimiters, now, ttl)
	prune(&rl.credMu, rl.credLimiters, now, ttl)
}

func prune(mu *sync.RWMutex, limiters map[string]*keyLimiter, now time.Time, ttl time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	for key, kl := range limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(limiters, key)
		}
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(NewErrorResponseBody(&model.APIError{
		Kind:     model.KindTransient,
		Code:     "RATE_LIMIT_EXCEEDED",
		Title:    "Too Many Requests",
		Message:  "Too many requests. Please try again later.",
		Severity: model.SeverityDestructive,
	}))
}

// ClientIP はリクエスト元のIPアドレスを返す。
// 接続元が信頼済みプロキシの場合に限りX-Forwarded-Forを右から辿り、
// 信頼済みでない最初のアドレスを返す。クライアントが付与した左側の値は使わない。
func ClientIP(r *http.Request, trusted []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !isTrustedProxy(host, trusted) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			break
		}
		if !isTrustedProxy(hop, trusted) {
			return hop
		}
		host = hop
	}
	return host
}

func isTrustedProxy(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
