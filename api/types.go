package api

import (
	"context"

	"github.com/lukasbals/scraty/domain"
)

// Storage abstracts persistence for handlers. Implementations commit each
// mutation before returning; a nil error means the change is durable. The
// Mutate operations run the load-apply-write cycle inside one transaction.
type Storage interface {
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
