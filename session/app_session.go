package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound means the session expired, was logged out or revoked.
var ErrNotFound = errors.New("session not found")

// AppSessionStore is the server-side half of a login. A token is only
// honoured while its jti is still here, which is what makes logout and
// user deletion take effect before the token expires.
type AppSessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewAppSessionStore(rdb *redis.Client, ttl time.Duration) *AppSessionStore {
	return &AppSessionStore{rdb: rdb, ttl: ttl}
}

type AppSession struct {
	UserID    uint   `json:"uid"`
	IP        string `json:"ip,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

func key(jti string) string      { return fmt.Sprintf("app:sess:%s", jti) }
func userSetKey(uid uint) string { return fmt.Sprintf("app:user_sessions:%d", uid) }

// Create registers jti until expiresAt. A zero expiresAt uses the store TTL.
func (s *AppSessionStore) Create(ctx context.Context, jti string, userID uint, ip string, expiresAt time.Time) error {
	now := time.Now()
	ttl := s.ttl
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt)
	}
	if ttl <= 0 {
		return errors.New("session already expired")
	}
	b, err := json.Marshal(AppSession{
		UserID:    userID,
		IP:        ip,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key(jti), b, ttl)
	pipe.SAdd(ctx, userSetKey(userID), jti)
	// 集合的过期时间跟随最新的会话
	pipe.Expire(ctx, userSetKey(userID), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *AppSessionStore) Get(ctx context.Context, jti string) (*AppSession, error) {
	b, err := s.rdb.Get(ctx, key(jti)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var as AppSession
	if err := json.Unmarshal(b, &as); err != nil {
		return nil, err
	}
	return &as, nil
}

// Delete is idempotent.
func (s *AppSessionStore) Delete(ctx context.Context, jti string) error {
	as, err := s.Get(ctx, jti)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key(jti))
	if as != nil {
		pipe.SRem(ctx, userSetKey(as.UserID), jti)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// RevokeAllForUser drops every live session of the user, used when the
// account is deleted.
func (s *AppSessionStore) RevokeAllForUser(ctx context.Context, userID uint) error {
	ids, err := s.rdb.SMembers(ctx, userSetKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := s.rdb.TxPipeline()
	for _, jti := range ids {
		pipe.Del(ctx, key(jti))
	}
	pipe.Del(ctx, userSetKey(userID))
	_, err = pipe.Exec(ctx)
	return err
}
