// Package location は端末側で保持する現在地・セッショントークンのキャッシュと逆ジオコーディングを提供する。
package location

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ruralink/kaaryasetu/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS cached_location (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	lat        REAL    NOT NULL,
	lng        REAL    NOT NULL,
	address    TEXT    NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS location_prompt (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	prompted_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS session_token (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	token      TEXT    NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Store は最後に取得した現在地と位置情報の許可確認の表示有無、
// およびサインイン中のセッショントークンを端末に保存する。
// 値は参考情報であり、書き込みは常に上書きする。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStore はpathのSQLiteファイルを開き、テーブルを作成する。
// pathに":memory:"を指定するとメモリ上に作成する。
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open location cache: %w", err)
	}
	// SQLiteへの書き込みは1接続に直列化する
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping location cache: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create location cache schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close はデータベースを閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Load は保存済みの現在地を返す。未保存の場合はnilを返す。
func (s *Store) Load(ctx context.Context) (*model.GeoPoint, error) {
	var p model.GeoPoint
	err := s.db.QueryRowContext(ctx,
		`SELECT lat, lng, address FROM cached_location WHERE id = 1`,
	).Scan(&p.Lat, &p.Lng, &p.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load location: %w", err)
	}
	return &p, nil
}

// Save は現在地を保存する。既存の値は上書きする。
func (s *Store) Save(ctx context.Context, p model.GeoPoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cached_location (id, lat, lng, address, updated_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   lat = excluded.lat, lng = excluded.lng,
		   address = excluded.address, updated_at = excluded.updated_at`,
		p.Lat, p.Lng, p.Address, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save location: %w", err)
	}
	return nil
}

// Clear は保存済みの現在地を削除する。許可確認の表示有無は残す。
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cached_location`); err != nil {
		return fmt.Errorf("failed to clear location: %w", err)
	}
	return nil
}

// ShouldPrompt はMarkPromptedが一度も呼ばれていない場合にtrueを返す。
func (s *Store) ShouldPrompt(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM location_prompt`).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to read prompt flag: %w", err)
	}
	return n == 0, nil
}

// MarkPrompted は位置情報の許可確認を表示済みとして記録する。
func (s *Store) MarkPrompted(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO location_prompt (id, prompted_at) VALUES (1, ?)
		 ON CONFLICT (id) DO NOTHING`,
		s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark prompt: %w", err)
	}
	return nil
}

// LoadToken は保存済みのセッショントークンを返す。未保存の場合は空文字を返す。
func (s *Store) LoadToken(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM session_token WHERE id = 1`).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load session token: %w", err)
	}
	return token, nil
}

// SaveToken はセッショントークンを保存する。
func (s *Store) SaveToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_token (id, token, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		token, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session token: %w", err)
	}
	return nil
}

// ClearToken はセッショントークンを削除する。現在地のキャッシュは残す。
func (s *Store) ClearToken(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_token`); err != nil {
		return fmt.Errorf("failed to clear session token: %w", err)
	}
	return nil
}
