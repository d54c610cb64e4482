package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/lukasbals/scraty/domain"
)

const mutationBodyMaxSize = 1 << 20

var errInvalidBody = errors.New("invalid request body")

// Register wires up all board routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, hub *Hub, logger *log.Logger) {
	e.GET("/api/story", getStories(store))
	e.GET("/api/story/:id", getStory(store))
	e.POST("/api/story", saveStory(store, hub, logger))
	e.POST("/api/story/:id", saveStory(store, hub, logger))
	e.DELETE("/api/story/:id", deleteStory(store, hub, logger))

	e.GET("/api/task", getTasks(store))
	e.GET("/api/task/:id", getTask(store))
	e.POST("/api/task", saveTask(store, hub, logger))
	e.POST("/api/task/:id", saveTask(store, hub, logger))
	e.DELETE("/api/task/:id", deleteTask(store, hub, logger))

	e.GET("/websocket", serveWebsocket(hub, logger))
	e.GET("/healthz", healthz(store))
}

type successResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

type failureResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type storiesResponse struct {
	Stories []domain.Story `json:"stories"`
}

type storyResponse struct {
	Story *domain.Story `json:"story"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type taskResponse struct {
	Task *domain.Task `json:"task"`
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, successResponse{Status: "success", Data: data})
}

func fail(c echo.Context, status int, err error) error {
	return c.JSON(status, failureResponse{Status: "failure", Message: err.Error()})
}

// failureStatus maps the pipeline error taxonomy onto HTTP statuses. Any
// unclassified failure is a server-side error scoped to this request.
func failureStatus(err error) int {
	var invalid domain.InvalidFieldError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &invalid), errors.Is(err, errInvalidBody):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// failMutation reports a pipeline failure, recording which stage broke.
// Nothing was committed at this point, so nothing is broadcast.
func failMutation(c echo.Context, metrics *mutationMetrics, opErr error) error {
	status := failureStatus(opErr)
	switch status {
	case http.StatusNotFound:
		metrics.SetErrorStage("lookup")
	case http.StatusBadRequest:
		metrics.SetErrorStage("validate")
	default:
		metrics.SetErrorStage("storage")
		c.Logger().Error(opErr)
	}
	return fail(c, status, opErr)
}

func decodePayload(c echo.Context) (domain.Payload, error) {
	lr := io.LimitReader(c.Request().Body, mutationBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	var p domain.Payload
	if err := dec.Decode(&p); err != nil {
		return nil, errInvalidBody
	}
	// A request body is exactly one JSON value; trailing bytes are rejected.
	if err := dec.Decode(new(any)); !errors.Is(err, io.EOF) {
		return nil, errInvalidBody
	}
	return p, nil
}

func healthz(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := store.Ping(c.Request().Context()); err != nil {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	}
}

func getStories(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		stories, err := store.ListStories(c.Request().Context())
		if err != nil {
			c.Logger().Error(err)
			return fail(c, http.StatusInternalServerError, err)
		}
		return c.JSON(http.StatusOK, storiesResponse{Stories: stories})
	}
}

func getStory(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		story, err := store.GetStory(c.Request().Context(), c.Param("id"))
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				c.Logger().Error(err)
			}
			return fail(c, failureStatus(err), err)
		}
		return c.JSON(http.StatusOK, storyResponse{Story: story})
	}
}

// saveStory handles create (no id) and update (id in path). Broadcast
// happens only after the store reports the mutation committed, and its
// outcome never changes the response.
func saveStory(store Storage, hub *Hub, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx := newMutationMetrics(c.Request().Context(), logger, "story", c.Path())
		c.SetRequest(c.Request().WithContext(ctx))
		var pipelineErr error
		defer func() { metrics.Log(c.Response().Status, pipelineErr) }()

		decodeStart := time.Now()
		payload, decodeErr := decodePayload(c)
		metrics.ObserveDecode(time.Since(decodeStart))
		if decodeErr != nil {
			pipelineErr = decodeErr
			metrics.SetErrorStage("decode")
			return fail(c, http.StatusBadRequest, decodeErr)
		}

		var (
			story  *domain.Story
			action domain.Action
			opErr  error
		)
		persistStart := time.Now()
		if id := c.Param("id"); id == "" {
			action = domain.ActionAdded
			story, opErr = domain.NewStory(payload)
			if opErr == nil {
				opErr = store.InsertStory(ctx, story)
			}
		} else {
			action = domain.ActionUpdated
			story, opErr = store.MutateStory(ctx, id, func(s *domain.Story) error {
				return s.Apply(payload)
			})
		}
		metrics.ObservePersist(time.Since(persistStart))
		if opErr != nil {
			pipelineErr = opErr
			return failMutation(c, metrics, opErr)
		}
		metrics.SetAction(action)

		broadcastStart := time.Now()
		hub.Broadcast(domain.ChangeEvent{Action: action, ObjectType: domain.ObjectStory, Object: story})
		metrics.ObserveBroadcast(time.Since(broadcastStart))

		return success(c, story)
	}
}

// deleteStory removes a story and its tasks, broadcasting the pre-delete
// snapshot of the story.
func deleteStory(store Storage, hub *Hub, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx := newMutationMetrics(c.Request().Context(), logger, "story", c.Path())
		c.SetRequest(c.Request().WithContext(ctx))
		var pipelineErr error
		defer func() { metrics.Log(c.Response().Status, pipelineErr) }()

		id := c.Param("id")
		persistStart := time.Now()
		story, opErr := store.GetStory(ctx, id)
		if opErr == nil {
			opErr = store.DeleteStory(ctx, id)
		}
		metrics.ObservePersist(time.Since(persistStart))
		if opErr != nil {
			pipelineErr = opErr
			return failMutation(c, metrics, opErr)
		}
		metrics.SetAction(domain.ActionDeleted)

		broadcastStart := time.Now()
		hub.Broadcast(domain.ChangeEvent{Action: domain.ActionDeleted, ObjectType: domain.ObjectStory, Object: story})
		metrics.ObserveBroadcast(time.Since(broadcastStart))

		return success(c, nil)
	}
}

func getTasks(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		tasks, err := store.ListTasks(c.Request().Context(), c.QueryParam("story_id"))
		if err != nil {
			c.Logger().Error(err)
			return fail(c, http.StatusInternalServerError, err)
		}
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func getTask(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		task, err := store.GetTask(c.Request().Context(), c.Param("id"))
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				c.Logger().Error(err)
			}
			return fail(c, failureStatus(err), err)
		}
		return c.JSON(http.StatusOK, taskResponse{Task: task})
	}
}

func saveTask(store Storage, hub *Hub, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx := newMutationMetrics(c.Request().Context(), logger, "task", c.Path())
		c.SetRequest(c.Request().WithContext(ctx))
		var pipelineErr error
		defer func() { metrics.Log(c.Response().Status, pipelineErr) }()

		decodeStart := time.Now()
		payload, decodeErr := decodePayload(c)
		metrics.ObserveDecode(time.Since(decodeStart))
		if decodeErr != nil {
			pipelineErr = decodeErr
			metrics.SetErrorStage("decode")
			return fail(c, http.StatusBadRequest, decodeErr)
		}

		var (
			task   *domain.Task
			action domain.Action
			opErr  error
		)
		persistStart := time.Now()
		if id := c.Param("id"); id == "" {
			action = domain.ActionAdded
			task, opErr = domain.NewTask(payload)
			if opErr == nil {
				opErr = store.InsertTask(ctx, task)
			}
		} else {
			action = domain.ActionUpdated
			task, opErr = store.MutateTask(ctx, id, func(t *domain.Task) error {
				return t.Apply(payload)
			})
		}
		metrics.ObservePersist(time.Since(persistStart))
		if opErr != nil {
			pipelineErr = opErr
			return failMutation(c, metrics, opErr)
		}
		metrics.SetAction(action)

		broadcastStart := time.Now()
		hub.Broadcast(domain.ChangeEvent{Action: action, ObjectType: domain.ObjectTask, Object: task})
		metrics.ObserveBroadcast(time.Since(broadcastStart))

		return success(c, task)
	}
}

func deleteTask(store Storage, hub *Hub, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx := newMutationMetrics(c.Request().Context(), logger, "task", c.Path())
		c.SetRequest(c.Request().WithContext(ctx))
		var pipelineErr error
		defer func() { metrics.Log(c.Response().Status, pipelineErr) }()

		id := c.Param("id")
		persistStart := time.Now()
		task, opErr := store.GetTask(ctx, id)
		if opErr == nil {
			opErr = store.DeleteTask(ctx, id)
		}
		metrics.ObservePersist(time.Since(persistStart))
		if opErr != nil {
			pipelineErr = opErr
			return failMutation(c, metrics, opErr)
		}
		metrics.SetAction(domain.ActionDeleted)

		broadcastStart := time.Now()
		hub.Broadcast(domain.ChangeEvent{Action: domain.ActionDeleted, ObjectType: domain.ObjectTask, Object: task})
		metrics.ObserveBroadcast(time.Since(broadcastStart))

		return success(c, nil)
	}
}
