package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrEmptyDatabaseURL はSTATE_BACKEND=postgresまたはmigrateでDATABASE_URLが未設定の場合に返す。
var ErrEmptyDatabaseURL = errors.New("database URL is empty")

// connectTimeout は起動時の接続確認のタイムアウト。
const connectTimeout = 5 * time.Second

// Open はクライアント状態の保存先となるPostgreSQLへの接続を開く。
// 接続の確認は行わない。起動時はConnectを使う。
func Open(databaseURL string) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, ErrEmptyDatabaseURL
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 1プロセスが扱うのはセッション・カート・住所の数キーのみ
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}

// Connect はOpenした接続をPingで確認して返す。失敗した場合は接続を閉じる。
func Connect(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := Open(databaseURL)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to state database: %w", err)
	}
	return db, nil
}
