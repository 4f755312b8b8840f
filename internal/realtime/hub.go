// Package realtime はデータ変更通知の配信を提供する。
// PostgreSQLのLISTEN/NOTIFYで受け取った変更をHubの購読者に転送する。
package realtime

import (
	"sync"
	"time"
)

// DefaultBuffer は購読チャネルのバッファサイズの既定値。
const DefaultBuffer = 8

// Change はテーブルの変更通知を表す。
// Tableが空の場合は再接続などで取りこぼした可能性があることを示す。
type Change struct {
	Table string
	At    time.Time
}

// Hub は変更通知を購読者に配信する。
// Publishは遅い購読者を待たず、バッファが一杯の購読者への通知は破棄する。
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]chan Change
	nextID uint64
	buffer int
	closed bool
}

// NewHub はHubの新しいインスタンスを生成する。
// bufferが0以下の場合はDefaultBufferを使用する。
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[uint64]chan Change),
		buffer: buffer,
	}
}

// Subscribe は変更通知のチャネルと購読解除関数を返す。
// 購読解除関数は何度呼んでもよく、呼ぶとチャネルが閉じられる。
// Close済みのHubに対しては閉じたチャネルを返す。
func (h *Hub) Subscribe() (<-chan Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Change, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.remove(id) })
	}
}

// Publish は全ての購読者に変更を通知する。
func (h *Hub) Publish(change Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

// Subscribers は現在の購読者数を返す。
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close は全ての購読チャネルを閉じる。以降のSubscribeは閉じたチャネルを返す。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}
