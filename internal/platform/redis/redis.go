package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The transcript cache is the sole consumer, so the timeouts are tight: a
// slow redis should degrade to database reads, not stall chat turns.
const (
	dialTimeout = 3 * time.Second
	opTimeout   = 2 * time.Second
)

// New dials redis and verifies connectivity before handing the client out.
func New(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  dialTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis at %s failed: %w", addr, err)
	}

	return client, nil
}
