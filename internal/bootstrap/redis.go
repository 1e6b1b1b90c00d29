package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tremiti/admin-console/config"
)

const redisPingTimeout = 5 * time.Second

// RedisConnectionConfig contains configuration for the Redis connection.
type RedisConnectionConfig struct {
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// ConnectRedis connects to the store holding client credentials. Cluster and
// sentinel deployments are selected by configuration; otherwise URI names a
// single server, either as host:port or a redis:// URL.
//
//nolint:ireturn // returning redis.UniversalClient lets us pick single, sentinel, or cluster clients at runtime.
func ConnectRedis(cfg RedisConnectionConfig) (redis.UniversalClient, error) {
	opts, addrDesc, err := redisOptions(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected", "addr", redactAddr(addrDesc))
	}
	return client, nil
}

// redisOptions maps configuration onto UniversalOptions. The returned
// description names the target for logs.
func redisOptions(cfg config.RedisConfig) (*redis.UniversalOptions, string, error) {
	switch {
	case cfg.UseCluster:
		addrs := normalizeAddrs(cfg.ClusterNodes)
		opts := &redis.UniversalOptions{Password: cfg.Password, IsClusterMode: true}
		if len(addrs) == 0 {
			// A single seed node may come from URI instead.
			seed, err := parseRedisURI(cfg.URI, cfg.Password)
			if err != nil {
				return nil, "", fmt.Errorf("parse redis cluster url: %w", err)
			}
			if seed.Addr != "" {
				addrs = []string{seed.Addr}
				opts.Username = seed.Username
				opts.Password = seed.Password
				opts.TLSConfig = seed.TLSConfig
			}
		}
		if len(addrs) == 0 {
			return nil, "", errors.New("redis cluster configuration requires at least one address")
		}
		opts.Addrs = addrs
		return opts, "cluster:" + strings.Join(addrs, ","), nil

	case cfg.UseSentinel:
		nodes := normalizeAddrs(cfg.SentinelNodes)
		if len(nodes) == 0 {
			return nil, "", errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		return &redis.UniversalOptions{
			MasterName:       cfg.SentinelMasterName,
			Addrs:            nodes,
			Password:         cfg.Password,
			SentinelPassword: cfg.SentinelPassword,
			DB:               cfg.DB,
		}, "sentinel:" + cfg.SentinelMasterName, nil

	default:
		if strings.TrimSpace(cfg.URI) == "" {
			return nil, "", errors.New("redis direct configuration requires a URI")
		}
		direct, err := parseRedisURI(cfg.URI, cfg.Password)
		if err != nil {
			return nil, "", fmt.Errorf("parse redis url: %w", err)
		}
		db := cfg.DB
		if isRedisURL(cfg.URI) {
			db = direct.DB
		}
		return &redis.UniversalOptions{
			Addrs:     []string{direct.Addr},
			Username:  direct.Username,
			Password:  direct.Password,
			DB:        db,
			TLSConfig: direct.TLSConfig,
		}, direct.Addr, nil
	}
}

// parseRedisURI accepts host:port or a redis:// / rediss:// URL.
// Credentials in the URL take precedence over defaultPassword.
func parseRedisURI(uri, defaultPassword string) (*redis.Options, error) {
	trimmed := strings.TrimSpace(uri)
	if !isRedisURL(trimmed) {
		return &redis.Options{Addr: trimmed, Password: defaultPassword}, nil
	}
	opt, err := redis.ParseURL(trimmed)
	if err != nil {
		return nil, err
	}
	if opt.Password == "" {
		opt.Password = defaultPassword
	}
	return opt, nil
}

func normalizeAddrs(raw []string) []string {
	result := make([]string, 0, len(raw))
	for _, addr := range raw {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func isRedisURL(value string) bool {
	return strings.HasPrefix(value, "redis://") || strings.HasPrefix(value, "rediss://")
}

// redactAddr strips credentials before logging.
func redactAddr(addr string) string {
	if u, err := url.Parse(addr); err == nil && u.User != nil {
		u.User = url.User("*")
		return u.Redacted()
	}
	if i := strings.LastIndex(addr, "@"); i > -1 {
		return addr[i+1:]
	}
	return addr
}
