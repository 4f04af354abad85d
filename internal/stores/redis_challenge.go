package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeRecordVersion = 2

// RedisChallengeStore keeps challenges in Redis so any replica can finish a
// login another one started.
type RedisChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisChallengeStore creates a store with keys namespaced as prefix:id.
func NewRedisChallengeStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisChallengeStore {
	if prefix == "" {
		prefix = "amc"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisChallengeStore{redis: client, prefix: prefix, now: now}
}

func (s *RedisChallengeStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisChallengeStore) Save(ctx context.Context, id string, c *Challenge) error {
	ttl := time.Unix(c.ExpiresAt, 0).Sub(s.now())
	if ttl <= 0 {
		return ErrChallengeExpired
	}
	encoded, err := encodeChallenge(c)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

func (s *RedisChallengeStore) Get(ctx context.Context, id string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	c, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if c.expired(s.now()) {
		_ = s.redis.Del(ctx, s.key(id)).Err()
		return nil, ErrChallengeExpired
	}
	return c, nil
}

func (s *RedisChallengeStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure updates the attempt count under WATCH, retrying a few times
// when another request touches the same challenge.
func (s *RedisChallengeStore) RecordFailure(ctx context.Context, id string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			c, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			now := s.now()
			ttl := time.Unix(c.ExpiresAt, 0).Sub(now)
			c.Attempts++
			exceeded = int(c.Attempts) >= maxAttempts

			if c.expired(now) || ttl <= 0 || exceeded {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				if !exceeded {
					return ErrChallengeExpired
				}
				return nil
			}

			updated, err := encodeChallenge(c)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case err == nil:
			return exceeded, nil
		case errors.Is(err, redis.Nil):
			return false, ErrChallengeNotFound
		case errors.Is(err, ErrChallengeExpired):
			return false, err
		default:
			return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
	}

	return false, fmt.Errorf("%w: contention on %s", ErrChallengeBackend, id)
}

func encodeChallenge(c *Challenge) ([]byte, error) {
	if len(c.UserID) > 0xffff {
		return nil, errors.New("mfa challenge user id too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion)
	_ = binary.Write(&buf, binary.BigEndian, c.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, c.ExpiresAt)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(c.UserID)))
	buf.WriteString(c.UserID)
	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion {
		return nil, errors.New("invalid mfa challenge version")
	}

	c := &Challenge{}
	if err := binary.Read(r, binary.BigEndian, &c.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &c.ExpiresAt); err != nil {
		return nil, err
	}

	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	user := make([]byte, n)
	if _, err := io.ReadFull(r, user); err != nil {
		return nil, err
	}
	c.UserID = string(user)
	return c, nil
}
