package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStateRepo はPostgreSQLのclient_stateテーブルに状態を保存するリポジトリ。
// 複数端末のクライアント状態を1つのDBで扱えるよう、namespaceで区切る。
type PostgresStateRepo struct {
	db        *sql.DB
	namespace string
}

// NewPostgresStateRepo はPostgresStateRepoを生成する。
func NewPostgresStateRepo(db *sql.DB, namespace string) *PostgresStateRepo {
	if namespace == "" {
		namespace = "default"
	}
	return &PostgresStateRepo{db: db, namespace: namespace}
}

// Get は指定キーの値を取得する。見つからない場合はnilを返す。
func (r *PostgresStateRepo) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM client_state WHERE namespace = $1 AND key = $2`,
		r.namespace, key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return value, nil
}

// Set は指定キーの値をUPSERTする。
func (r *PostgresStateRepo) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO client_state (namespace, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (namespace, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		r.namespace, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}
	return nil
}

// Delete は指定キーの値を削除する。
func (r *PostgresStateRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM client_state WHERE namespace = $1 AND key = $2`,
		r.namespace, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// compile-time interface check
var _ StateRepository = (*PostgresStateRepo)(nil)
