package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisDedup claims deployment UUIDs across process boundaries before the
// local Store ever touches the filesystem, the cross-restart complement to
// Init's same-directory os.Stat check (spec §9's open question: local
// os.Stat only catches collisions within one audit-log directory, not
// across separate deployctl processes or hosts sharing an ID space).
// Grounded on the teacher's database.Redis wrapper (NewRedis/SetNX).
type RedisDedup struct {
	client *redis.Client
}

// RedisDedupConfig configures the dedup client's connection.
type RedisDedupConfig struct {
	Addr     string
	Password string
	DB       int
}

const dedupKeyPrefix = "deployctl:audit:"

// NewRedisDedup dials addr and verifies the connection, mirroring the
// teacher's NewRedis.
func NewRedisDedup(cfg RedisDedupConfig) (*RedisDedup, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("audit: connect to redis: %w", err)
	}
	return &RedisDedup{client: client}, nil
}

// Claim atomically reserves id. It returns false, nil if id was already
// claimed by a prior Init (this process or another one) — the caller
// should treat that the same as ErrLogExists. The claim never expires:
// a UUID must never be reused for a different deployment, so there is no
// TTL to pick.
func (d *RedisDedup) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupKeyPrefix+id.String(), 1, 0).Result()
	if err != nil {
		return false, fmt.Errorf("audit: redis claim: %w", err)
	}
	return ok, nil
}

// Close releases the underlying connection.
func (d *RedisDedup) Close() error {
	return d.client.Close()
}
