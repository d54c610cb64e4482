package domain

// Action describes what happened to an entity.
type Action string

const (
	ActionAdded   Action = "added"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// ObjectType names the entity kind carried by a change event.
type ObjectType string

const (
	ObjectStory ObjectType = "story"
	ObjectTask  ObjectType = "task"
)

// ChangeEvent describes one committed mutation. It is built after a
// successful commit, fanned out to observers once, and discarded. For
// deletions Object carries the pre-delete snapshot.
type ChangeEvent struct {
	Action     Action     `json:"action"`
	ObjectType ObjectType `json:"object_type"`
	Object     any        `json:"object"`
}
