package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"roomwatch/internal/core/domain"
	"roomwatch/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "roomwatch:"

func reportKey(id domain.SessionID) string {
	return keyPrefix + "report:" + string(id)
}

func roomKey(room string) string {
	return keyPrefix + "room:" + room
}

// RedisReportRepository stores each session's latest report as JSON with a
// TTL and indexes sessions per room in a set.
type RedisReportRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReportRepository(client *redis.Client, ttl time.Duration) ports.ReportRepository {
	return &RedisReportRepository{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisReportRepository) Save(ctx context.Context, report domain.QualityReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, reportKey(report.SessionID), data, r.ttl)
		pipe.SAdd(ctx, roomKey(report.Room), string(report.SessionID))
		if r.ttl > 0 {
			pipe.Expire(ctx, roomKey(report.Room), r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save report in Redis: %w", err)
	}
	return nil
}

func (r *RedisReportRepository) Latest(ctx context.Context, id domain.SessionID) (*domain.QualityReport, error) {
	data, err := r.client.Get(ctx, reportKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report from Redis: %w", err)
	}

	var report domain.QualityReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// ListByRoom drops index entries whose report has expired.
func (r *RedisReportRepository) ListByRoom(ctx context.Context, room string) ([]*domain.QualityReport, error) {
	ids, err := r.client.SMembers(ctx, roomKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list room sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = reportKey(domain.SessionID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room reports: %w", err)
	}

	var (
		reports []*domain.QualityReport
		expired []interface{}
	)
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var report domain.QualityReport
		if err := json.Unmarshal([]byte(raw), &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report %s: %w", ids[i], err)
		}
		reports = append(reports, &report)
	}

	if len(expired) > 0 {
		if err := r.client.SRem(ctx, roomKey(room), expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune room index: %w", err)
		}
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Identity < reports[j].Identity })
	return reports, nil
}

func (r *RedisReportRepository) Delete(ctx context.Context, id domain.SessionID) error {
	room, _, err := id.Split()
	if err != nil {
		return err
	}

	var del *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, reportKey(id))
		pipe.SRem(ctx, roomKey(room), string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete report from Redis: %w", err)
	}
	if del.Val() == 0 {
		return domain.ErrReportNotFound
	}
	return nil
}
