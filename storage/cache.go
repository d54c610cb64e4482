package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/lukasbals/scraty/domain"
)

const (
	storiesCacheKey = "board:stories"
	tasksCacheKey   = "board:tasks"
)

type backend interface {
	InsertStory(ctx context.Context, story *domain.Story) error
	GetStory(ctx context.Context, id string) (*domain.Story, error)
	ListStories(ctx context.Context) ([]domain.Story, error)
	MutateStory(ctx context.Context, id string, fn func(*domain.Story) error) (*domain.Story, error)
	DeleteStory(ctx context.Context, id string) error

	InsertTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	ListTasks(ctx context.Context, storyID string) ([]domain.Task, error)
	MutateTask(ctx context.Context, id string, fn func(*domain.Task) error) (*domain.Task, error)
	DeleteTask(ctx context.Context, id string) error

	Ping(ctx context.Context) error
}

// Cache wraps a Store with Redis-backed caching of the board lists. Every
// mutation evicts the affected list so observers re-reading the board see
// committed state. Redis being unavailable degrades to the backing store.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching decorator using the provided Redis client and
// TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListStories(ctx context.Context) ([]domain.Story, error) {
	var stories []domain.Story
	if c.loadList(ctx, storiesCacheKey, &stories) {
		return stories, nil
	}
	stories, err := c.base.ListStories(ctx)
	if err != nil {
		return nil, err
	}
	c.storeList(ctx, storiesCacheKey, stories)
	return stories, nil
}

func (c *Cache) ListTasks(ctx context.Context, storyID string) ([]domain.Task, error) {
	// Only the full board list is cached; filtered reads go to the store.
	if storyID != "" {
		return c.base.ListTasks(ctx, storyID)
	}
	var tasks []domain.Task
	if c.loadList(ctx, tasksCacheKey, &tasks) {
		return tasks, nil
	}
	tasks, err := c.base.ListTasks(ctx, "")
	if err != nil {
		return nil, err
	}
	c.storeList(ctx, tasksCacheKey, tasks)
	return tasks, nil
}

func (c *Cache) InsertStory(ctx context.Context, story *domain.Story) error {
	if err := c.base.InsertStory(ctx, story); err != nil {
		return err
	}
	c.evict(ctx, storiesCacheKey)
	return nil
}

func (c *Cache) MutateStory(ctx context.Context, id string, fn func(*domain.Story) error) (*domain.Story, error) {
	story, err := c.base.MutateStory(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, storiesCacheKey)
	return story, nil
}

// DeleteStory evicts both lists: the cascade removes tasks too.
func (c *Cache) DeleteStory(ctx context.Context, id string) error {
	if err := c.base.DeleteStory(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, storiesCacheKey, tasksCacheKey)
	return nil
}

func (c *Cache) InsertTask(ctx context.Context, task *domain.Task) error {
	if err := c.base.InsertTask(ctx, task); err != nil {
		return err
	}
	c.evict(ctx, tasksCacheKey)
	return nil
}

func (c *Cache) MutateTask(ctx context.Context, id string, fn func(*domain.Task) error) (*domain.Task, error) {
	task, err := c.base.MutateTask(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, tasksCacheKey)
	return task, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	if err := c.base.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, tasksCacheKey)
	return nil
}

func (c *Cache) GetStory(ctx context.Context, id string) (*domain.Story, error) {
	return c.base.GetStory(ctx, id)
}

func (c *Cache) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.base.Ping(ctx)
}

func (c *Cache) loadList(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) storeList(ctx context.Context, key string, list any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(list)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}
