package builderstub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const projectIndexKey = "projects"

// RedisStore keeps projects in Redis. Records expire ttl after their last
// save; the index is pruned lazily on List.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{redis: client, ttl: ttl}, nil
}

func projectKey(id string) string {
	return fmt.Sprintf("project:%s", id)
}

func (s *RedisStore) Save(ctx context.Context, project Project) error {
	data, err := json.Marshal(project)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, projectKey(project.ID), data, s.ttl)
		pipe.ZAdd(ctx, projectIndexKey, redis.Z{
			Score:  float64(project.CreatedAt.UnixNano()),
			Member: project.ID,
		})
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (Project, error) {
	data, err := s.redis.Get(ctx, projectKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Project{}, ErrProjectNotFound
	}
	if err != nil {
		return Project{}, err
	}

	var project Project
	if err := json.Unmarshal(data, &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// List returns live projects newest first and drops expired ids from the index.
func (s *RedisStore) List(ctx context.Context) ([]Project, error) {
	ids, err := s.redis.ZRevRange(ctx, projectIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	projects := make([]Project, 0, len(ids))
	var expired []any
	for _, id := range ids {
		project, err := s.Get(ctx, id)
		if errors.Is(err, ErrProjectNotFound) {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}

	if len(expired) > 0 {
		if err := s.redis.ZRem(ctx, projectIndexKey, expired...).Err(); err != nil {
			return nil, err
		}
	}
	return projects, nil
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}
