package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const maxTxRetries = 5

type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// CallRecordRepository stores each call as a hash under "call:<roomId>".
type CallRecordRepository struct {
	client *redis.Client
}

// Connect dials redis and checks the connection.
func Connect(ctx context.Context, cfg Config) (*CallRecordRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info().Str("addr", client.Options().Addr).Msg("Call store connected")
	return New(client), nil
}

func New(client *redis.Client) *CallRecordRepository {
	return &CallRecordRepository{client: client}
}

func (r *CallRecordRepository) Close() error {
	return r.client.Close()
}

func key(roomID domain.RoomID) string {
	return "call:" + roomID.String()
}

func (r *CallRecordRepository) Create(ctx context.Context, rec domain.CallRecord) error {
	k := key(rec.RoomID)
	return r.retry(ctx, k, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, k).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("call %s: %w", rec.RoomID, domain.ErrAlreadyExists)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, toHash(rec))
			return nil
		})
		return err
	})
}

func (r *CallRecordRepository) Get(ctx context.Context, roomID domain.RoomID) (domain.CallRecord, error) {
	return get(ctx, r.client, roomID)
}

// UpdateStatus reads, transitions and writes under WATCH so concurrent writers retry on the new state.
func (r *CallRecordRepository) UpdateStatus(ctx context.Context, roomID domain.RoomID, status domain.CallStatus, at time.Time) error {
	k := key(roomID)
	return r.retry(ctx, k, func(tx *redis.Tx) error {
		rec, err := get(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if err := rec.Transition(status, at); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, toHash(rec))
			return nil
		})
		return err
	})
}

func (r *CallRecordRepository) retry(ctx context.Context, k string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, k)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		log.Debug().Str("key", k).Int("attempt", i+1).Msg("Call record changed during transaction, retrying")
	}
	return fmt.Errorf("%s: too many concurrent updates", k)
}

func get(ctx context.Context, c redis.Cmdable, roomID domain.RoomID) (domain.CallRecord, error) {
	fields, err := c.HGetAll(ctx, key(roomID)).Result()
	if err != nil {
		return domain.CallRecord{}, fmt.Errorf("load call %s: %w", roomID, err)
	}
	if len(fields) == 0 {
		return domain.CallRecord{}, fmt.Errorf("call %s: %w", roomID, domain.ErrNotFound)
	}
	return fromHash(fields)
}

func toHash(rec domain.CallRecord) map[string]any {
	return map[string]any{
		"roomId":     rec.RoomID.String(),
		"callerId":   rec.CallerID.String(),
		"calleeId":   rec.CalleeID.String(),
		"status":     string(rec.Status),
		"createdAt":  stamp(rec.CreatedAt),
		"acceptedAt": stamp(rec.AcceptedAt),
		"declinedAt": stamp(rec.DeclinedAt),
		"endedAt":    stamp(rec.EndedAt),
	}
}

func fromHash(h map[string]string) (domain.CallRecord, error) {
	rec := domain.CallRecord{
		RoomID:   domain.RoomID(h["roomId"]),
		CallerID: domain.UserID(h["callerId"]),
		CalleeID: domain.UserID(h["calleeId"]),
		Status:   domain.CallStatus(h["status"]),
	}
	if !rec.Status.Valid() {
		return domain.CallRecord{}, fmt.Errorf("call %s: invalid status %q", rec.RoomID, rec.Status)
	}
	for field, dst := range map[string]*time.Time{
		"createdAt":  &rec.CreatedAt,
		"acceptedAt": &rec.AcceptedAt,
		"declinedAt": &rec.DeclinedAt,
		"endedAt":    &rec.EndedAt,
	} {
		t, err := parseStamp(h[field])
		if err != nil {
			return domain.CallRecord{}, fmt.Errorf("call %s: %s: %w", rec.RoomID, field, err)
		}
		*dst = t
	}
	return rec, nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
