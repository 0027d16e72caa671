package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimScript sets the owner lease if free or already ours, and marks the app as seen.
// Returns 1 on success, 0 when another node holds the lease.
const claimScript = `
	local val = redis.call("get", KEYS[1])
	if val and val ~= ARGV[1] then
		return 0
	end
	redis.call("set", KEYS[1], ARGV[1], "PX", tonumber(ARGV[2]))
	redis.call("set", KEYS[2], "1")
	return 1
`

// renewScript extends the lease only if ARGV[1] still owns it.
// Returns:
// 1: Success (TTL extended)
// -1: Key missing (lease expired)
// -2: Owner mismatch
const renewScript = `
	local val = redis.call("get", KEYS[1])
	if not val then
		return -1
	end
	if val == ARGV[1] then
		return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
	else
		return -2
	end
`

const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// RedisStore implements OwnershipStore using Redis leases.
type RedisStore struct {
	client *redis.Client

	// Preloaded Lua script SHAs for atomic operations
	claimSHA   string
	renewSHA   string
	releaseSHA string
}

func NewRedisStore(addr string, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	s := &RedisStore{client: client}
	for _, sc := range []struct {
		src string
		sha *string
	}{
		{claimScript, &s.claimSHA},
		{renewScript, &s.renewSHA},
		{releaseScript, &s.releaseSHA},
	} {
		sha, err := client.ScriptLoad(ctx, sc.src).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to preload lua script: %w", err)
		}
		*sc.sha = sha
	}
	return s, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Backend() string { return "redis" }

func (s *RedisStore) ClaimApp(ctx context.Context, appID int64, nodeID string, ttl time.Duration) (bool, error) {
	defer observe("redis", "claim")()

	res, err := s.client.EvalSha(ctx, s.claimSHA,
		[]string{AppOwnerKey(appID), AppSeenKey(appID)},
		nodeID, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("claim app %d: %w", appID, err)
	}
	return res == 1, nil
}

func (s *RedisStore) RenewApp(ctx context.Context, appID int64, nodeID string, ttl time.Duration) (bool, error) {
	defer observe("redis", "renew")()

	res, err := s.client.EvalSha(ctx, s.renewSHA, []string{AppOwnerKey(appID)}, nodeID, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("renew app %d: %w", appID, err)
	}
	// -1 key missing, -2 owner mismatch, 0 pexpire raced with expiry
	return res == 1, nil
}

func (s *RedisStore) ReleaseApp(ctx context.Context, appID int64, nodeID string) error {
	defer observe("redis", "release")()

	_, err := s.client.EvalSha(ctx, s.releaseSHA, []string{AppOwnerKey(appID)}, nodeID).Result()
	return err
}

func (s *RedisStore) AppOwner(ctx context.Context, appID int64) (AppOwnership, error) {
	defer observe("redis", "owner")()

	rec := AppOwnership{AppID: appID}

	pipe := s.client.Pipeline()
	ownerCmd := pipe.Get(ctx, AppOwnerKey(appID))
	ttlCmd := pipe.PTTL(ctx, AppOwnerKey(appID))
	seenCmd := pipe.Exists(ctx, AppSeenKey(appID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return rec, fmt.Errorf("lookup owner of app %d: %w", appID, err)
	}

	owner, err := ownerCmd.Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return rec, err
	default:
		rec.Owner = owner
		if ttl := ttlCmd.Val(); ttl > 0 {
			rec.ExpiresAt = time.Now().Add(ttl)
		}
	}
	rec.Known = rec.Owner != "" || seenCmd.Val() > 0
	return rec, nil
}
