// Package redisclient builds the go-redis client behind the Redis record store.
package redisclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/usage_analytics/internal/config"
)

const (
	clientName = "usage-analytics"
	// Timeline loads fetch documents with large MGET replies.
	defaultReadTimeout = 10 * time.Second
	pingTimeout        = 3 * time.Second
)

// Options resolves the store's Redis settings. URLs go through ParseURL;
// anything ParseURL rejects is taken as a bare host:port. DB and pool size
// from the config win over the URL.
func Options(cfg config.RedisConfig) *redis.Options {
	raw := strings.TrimSpace(cfg.URL)
	opts, err := redis.ParseURL(raw)
	if err != nil {
		opts = &redis.Options{Addr: raw}
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.ClientName == "" {
		opts.ClientName = clientName
	}
	return opts
}

// New constructs the client for the record store.
func New(cfg config.RedisConfig) *redis.Client {
	client := redis.NewClient(Options(cfg))
	client.AddHook(maintNotificationsFilter{})
	return client
}

// Ping verifies connectivity with a short timeout.
func Ping(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// maintNotificationsFilter drops the CLIENT MAINT_NOTIFICATIONS handshake,
// which older servers and miniredis reject.
type maintNotificationsFilter struct{}

func isMaintNotifications(cmd redis.Cmder) bool {
	args := cmd.Args()
	if !strings.EqualFold(cmd.FullName(), "client") || len(args) < 2 {
		return false
	}
	sub, ok := args[1].(string)
	return ok && strings.EqualFold(sub, "maint_notifications")
}

func (maintNotificationsFilter) DialHook(next redis.DialHook) redis.DialHook { return next }

func (maintNotificationsFilter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if isMaintNotifications(cmd) {
			return nil
		}
		return next(ctx, cmd)
	}
}

func (maintNotificationsFilter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		kept := cmds[:0]
		for _, cmd := range cmds {
			if !isMaintNotifications(cmd) {
				kept = append(kept, cmd)
			}
		}
		return next(ctx, kept)
	}
}
