package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	xerrors "indexao/internal/errors"
	"indexao/pkg/capability"
	"indexao/pkg/plugin"
)

const (
	defaultFeedKey    = "indexao:adapter_switches"
	defaultFeedMaxLen = 1000
)

// RedisConfig 描述 Redis 事件列表的连接参数。
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	List     string `yaml:"list"`
	MaxLen   int64  `yaml:"max_len"`
}

// RedisFeed keeps the latest events in a capped Redis list, newest at the head.
type RedisFeed struct {
	client *redis.Client
	key    string
	maxLen int64
	owned  bool
}

// NewRedisFeed 连接 Redis 并验证连通性。
func NewRedisFeed(ctx context.Context, cfg RedisConfig) (*RedisFeed, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("Redis 地址不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeUnavailable, err, "连接 Redis 失败")
	}
	feed := NewRedisFeedWithClient(client, cfg.List, cfg.MaxLen)
	feed.owned = true
	return feed, nil
}

// NewRedisFeedWithClient uses client without taking ownership of it.
func NewRedisFeedWithClient(client *redis.Client, key string, maxLen int64) *RedisFeed {
	if key == "" {
		key = defaultFeedKey
	}
	if maxLen <= 0 {
		maxLen = defaultFeedMaxLen
	}
	return &RedisFeed{client: client, key: key, maxLen: maxLen}
}

func (f *RedisFeed) Record(ctx context.Context, event plugin.SwitchEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("编码切换事件失败: %w", err)
	}
	_, err = f.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, f.key, body)
		pipe.LTrim(ctx, f.key, 0, f.maxLen-1)
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 切换事件失败")
	}
	return nil
}

func (f *RedisFeed) List(ctx context.Context, kind capability.Kind, limit int) ([]plugin.SwitchEvent, error) {
	raw, err := f.client.LRange(ctx, f.key, 0, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 切换事件失败")
	}
	events := make([]plugin.SwitchEvent, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var ev plugin.SwitchEvent
		if err := json.Unmarshal([]byte(raw[i]), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return tail(events, kind, normalizeLimit(limit)), nil
}

func (f *RedisFeed) Close() error {
	if f == nil || f.client == nil || !f.owned {
		return nil
	}
	return f.client.Close()
}
