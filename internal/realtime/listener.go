package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const (
	// Channel はトリガーがpg_notifyで使用するチャネル名。
	Channel = "kaaryasetu_changes"

	defaultMinReconnect = 10 * time.Second
	defaultMaxReconnect = time.Minute
	defaultPingInterval = 90 * time.Second
)

// Listener はPostgreSQLの変更通知をHubに転送する。
type Listener struct {
	databaseURL  string
	hub          *Hub
	logger       *slog.Logger
	PingInterval time.Duration
}

// NewListener はListenerの新しいインスタンスを生成する。
func NewListener(databaseURL string, hub *Hub, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		databaseURL:  databaseURL,
		hub:          hub,
		logger:       logger,
		PingInterval: defaultPingInterval,
	}
}

// Run はコンテキストがキャンセルされるまで変更通知を受信する。
// 接続断はpq.Listenerが自動で再接続する。
func (l *Listener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.databaseURL, defaultMinReconnect, defaultMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				l.logger.Warn("変更通知の接続でエラーが発生しました",
					slog.Int("event", int(ev)),
					slog.String("error", err.Error()),
				)
			}
		},
	)
	defer listener.Close()

	if err := listener.Listen(Channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", Channel, err)
	}

	l.logger.Info("変更通知の受信を開始しました", slog.String("channel", Channel))
	l.forward(ctx, listener.Notify, listener.Ping)
	l.logger.Info("変更通知の受信を停止しました")
	return nil
}

// forward はnotifyから受け取った通知をHubに転送する。
// 再接続時に届くnilの通知は、テーブル名なしの変更として転送する。
func (l *Listener) forward(ctx context.Context, notify <-chan *pq.Notification, ping func() error) {
	interval := l.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notify:
			if !ok {
				return
			}
			change := Change{At: time.Now()}
			if n != nil {
				change.Table = n.Extra
			}
			l.hub.Publish(change)
		case <-ticker.C:
			if err := ping(); err != nil {
				l.logger.Warn("変更通知の接続確認に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}
