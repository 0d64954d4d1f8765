// Package cache shares verdicts between gate replicas. Validation is
// deterministic for a given policy, so a verdict keyed by the policy
// fingerprint and the code hash can be reused until the policy changes.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"safe-code-gate/internal/gate"
)

// ErrConnectionFailed is returned when the initial ping fails.
var ErrConnectionFailed = errors.New("cache connection failed")

// Options configures a Redis verdict cache.
type Options struct {
	Address     string
	Password    string
	DB          int
	KeyPrefix   string
	TTL         time.Duration
	DialTimeout time.Duration
}

// VerdictCache stores verdicts in Redis.
type VerdictCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*VerdictCache, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Address,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	return NewFromClient(client, opts.KeyPrefix, opts.TTL), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, keyPrefix string, ttl time.Duration) *VerdictCache {
	return &VerdictCache{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Key returns the cache key for code validated under the policy with the
// given fingerprint.
func (c *VerdictCache) Key(fingerprint, code string) string {
	sum := sha256.Sum256([]byte(code))
	return c.keyPrefix + "verdict:" + fingerprint + ":" + hex.EncodeToString(sum[:])
}

type entry struct {
	Kind   string `json:"kind"`
	Rule   string `json:"rule,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func encode(v gate.Verdict) ([]byte, error) {
	return json.Marshal(entry{Kind: v.Kind.String(), Rule: v.Rule, Reason: v.Reason})
}

func decode(data []byte) (gate.Verdict, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return gate.Verdict{}, fmt.Errorf("decoding cached verdict: %w", err)
	}
	kind, ok := gate.ParseKind(e.Kind)
	if !ok {
		return gate.Verdict{}, fmt.Errorf("decoding cached verdict: unknown kind %q", e.Kind)
	}
	return gate.Verdict{Kind: kind, Rule: e.Rule, Reason: e.Reason}, nil
}

// Get returns the cached verdict, if any.
func (c *VerdictCache) Get(ctx context.Context, fingerprint, code string) (gate.Verdict, bool, error) {
	data, err := c.client.Get(ctx, c.Key(fingerprint, code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return gate.Verdict{}, false, nil
		}
		return gate.Verdict{}, false, fmt.Errorf("reading cached verdict: %w", err)
	}
	v, err := decode(data)
	if err != nil {
		return gate.Verdict{}, false, err
	}
	return v, true, nil
}

// Set stores v with the configured TTL.
func (c *VerdictCache) Set(ctx context.Context, fingerprint, code string, v gate.Verdict) error {
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("encoding verdict: %w", err)
	}
	if err := c.client.Set(ctx, c.Key(fingerprint, code), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing cached verdict: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *VerdictCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *VerdictCache) Close() error {
	return c.client.Close()
}
