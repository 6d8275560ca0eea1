package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisStateRepo はRedisに状態を保存するリポジトリ。
// すべてのキーに "{namespace}:" のプレフィックスを付与する。
type RedisStateRepo struct {
	client    *redis.Client
	namespace string
}

// NewRedisStateRepo はRedisの接続URLからRedisStateRepoを生成する。
// 接続確認のためPingを実行する。
func NewRedisStateRepo(ctx context.Context, redisURL, namespace string) (*RedisStateRepo, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStateRepoWithClient(client, namespace), nil
}

// NewRedisStateRepoWithClient は既存のクライアントからRedisStateRepoを生成する。
func NewRedisStateRepoWithClient(client *redis.Client, namespace string) *RedisStateRepo {
	if namespace == "" {
		namespace = "homechef:state"
	}
	return &RedisStateRepo{client: client, namespace: namespace}
}

func (r *RedisStateRepo) key(key string) string {
	return r.namespace + ":" + key
}

// Get は指定キーの値を取得する。見つからない場合はnilを返す。
func (r *RedisStateRepo) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return value, nil
}

// Set は指定キーに値を保存する。有効期限は設定しない。
func (r *RedisStateRepo) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}
	return nil
}

// Delete は指定キーの値を削除する。
func (r *RedisStateRepo) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// Close はRedis接続を閉じる。
func (r *RedisStateRepo) Close() error {
	return r.client.Close()
}

// compile-time interface check
var _ StateRepository = (*RedisStateRepo)(nil)
