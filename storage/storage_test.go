package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lukasbals/scraty/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoryRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	story := &domain.Story{ID: "s1", Title: "sprint 1", Position: 2, Created: time.Now().UTC()}
	if err := st.InsertStory(ctx, story); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := st.GetStory(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != story.Title || got.Position != story.Position {
		t.Fatalf("unexpected story: %#v", got)
	}
	if !got.Created.Equal(story.Created) {
		t.Fatalf("created mismatch: %v != %v", got.Created, story.Created)
	}
}

func TestGetStoryNotFound(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.GetStory(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMutateStoryNotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.MutateStory(context.Background(), "missing", func(*domain.Story) error {
		t.Fatal("apply must not run for an absent story")
		return nil
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMutateStoryConcurrentPartialUpdates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.InsertStory(ctx, &domain.Story{ID: "s1", Title: "old", Created: time.Now().UTC()}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Two writers touching disjoint fields. Each transaction reads the
	// other's committed state, so neither field may be lost.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = st.MutateStory(ctx, "s1", func(s *domain.Story) error {
			s.Title = "new"
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = st.MutateStory(ctx, "s1", func(s *domain.Story) error {
			s.Position = 5
			return nil
		})
	}()
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("mutate %d: %v", i, err)
		}
	}

	got, err := st.GetStory(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "new" || got.Position != 5 {
		t.Fatalf("lost update: %#v", got)
	}
}

func TestMutateStoryRollsBackOnApplyError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.InsertStory(ctx, &domain.Story{ID: "s1", Title: "keep", Created: time.Now().UTC()}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	boom := errors.New("rejected")
	if _, err := st.MutateStory(ctx, "s1", func(s *domain.Story) error {
		s.Title = "discard"
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected apply error, got %v", err)
	}

	got, err := st.GetStory(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "keep" {
		t.Fatalf("apply failure must not persist, got %#v", got)
	}
}

func TestListStoriesOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	// Inserted out of order on purpose.
	inserts := []domain.Story{
		{ID: "c", Position: 2, Created: base},
		{ID: "b", Position: 1, Created: base.Add(time.Second)},
		{ID: "a", Position: 1, Created: base},
	}
	for i := range inserts {
		if err := st.InsertStory(ctx, &inserts[i]); err != nil {
			t.Fatalf("insert %s: %v", inserts[i].ID, err)
		}
	}

	stories, err := st.ListStories(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(stories) != len(want) {
		t.Fatalf("expected %d stories, got %d", len(want), len(stories))
	}
	for i, id := range want {
		if stories[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, stories[i].ID)
		}
	}
}

func TestDeleteStoryCascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	story := &domain.Story{ID: "s1", Created: time.Now().UTC()}
	if err := st.InsertStory(ctx, story); err != nil {
		t.Fatalf("insert story: %v", err)
	}
	other := &domain.Story{ID: "s2", Created: time.Now().UTC()}
	if err := st.InsertStory(ctx, other); err != nil {
		t.Fatalf("insert story: %v", err)
	}
	for _, task := range []*domain.Task{
		{ID: "t1", Text: "a", StoryID: "s1"},
		{ID: "t2", Text: "b", StoryID: "s1"},
		{ID: "t3", Text: "c", StoryID: "s2"},
	} {
		if err := st.InsertTask(ctx, task); err != nil {
			t.Fatalf("insert task %s: %v", task.ID, err)
		}
	}

	if err := st.DeleteStory(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := st.GetStory(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("story still present: %v", err)
	}
	tasks, err := st.ListTasks(ctx, "")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t3" {
		t.Fatalf("expected only t3 to survive, got %#v", tasks)
	}
}

func TestDeleteStoryNotFound(t *testing.T) {
	st := openTestStore(t)
	if err := st.DeleteStory(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTaskCRUD(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.InsertStory(ctx, &domain.Story{ID: "s1", Created: time.Now().UTC()}); err != nil {
		t.Fatalf("insert story: %v", err)
	}
	task := &domain.Task{ID: "t1", Text: "write tests", User: "ada", StoryID: "s1"}
	if err := st.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}

	got, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Text != "write tests" || got.User != "ada" || got.StoryID != "s1" {
		t.Fatalf("unexpected task: %#v", got)
	}

	updated, err := st.MutateTask(ctx, "t1", func(task *domain.Task) error {
		task.Text = "run tests"
		return nil
	})
	if err != nil {
		t.Fatalf("mutate task: %v", err)
	}
	if updated.Text != "run tests" {
		t.Fatalf("unexpected mutate result: %#v", updated)
	}
	again, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if again.Text != "run tests" {
		t.Fatalf("update not persisted: %#v", again)
	}

	if err := st.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if _, err := st.GetTask(ctx, "t1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("task still present: %v", err)
	}
}

func TestListTasksByStory(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		if err := st.InsertStory(ctx, &domain.Story{ID: id, Created: time.Now().UTC()}); err != nil {
			t.Fatalf("insert story: %v", err)
		}
	}
	for _, task := range []*domain.Task{
		{ID: "t1", StoryID: "s1"},
		{ID: "t2", StoryID: "s2"},
	} {
		if err := st.InsertTask(ctx, task); err != nil {
			t.Fatalf("insert task: %v", err)
		}
	}

	tasks, err := st.ListTasks(ctx, "s2")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t2" {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
}
