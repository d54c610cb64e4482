package domain

import "github.com/google/uuid"

// Task is a single board card. User is the assignee label the board uses
// for coloring; StoryID references the owning story.
type Task struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	User    string `json:"user"`
	StoryID string `json:"story_id"`
}

// NewTask builds a task from a creation payload, assigning an id when the
// client did not supply one.
func NewTask(p Payload) (*Task, error) {
	t := &Task{}
	for key, raw := range p {
		switch key {
		case "id":
			if err := unmarshalField("task", key, raw, &t.ID); err != nil {
				return nil, err
			}
		case "text", "user", "story_id":
			if err := t.set(key, raw); err != nil {
				return nil, err
			}
		default:
			return nil, InvalidFieldError{Entity: "task", Field: key}
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return t, nil
}

// Apply assigns the updatable fields named in p. The id is update-immune;
// story_id stays updatable so cards can move between stories.
func (t *Task) Apply(p Payload) error {
	for key, raw := range p {
		switch key {
		case "text", "user", "story_id":
			if err := t.set(key, raw); err != nil {
				return err
			}
		default:
			return InvalidFieldError{Entity: "task", Field: key}
		}
	}
	return nil
}

func (t *Task) set(key string, raw []byte) error {
	switch key {
	case "text":
		return unmarshalField("task", key, raw, &t.Text)
	case "user":
		return unmarshalField("task", key, raw, &t.User)
	case "story_id":
		return unmarshalField("task", key, raw, &t.StoryID)
	}
	return InvalidFieldError{Entity: "task", Field: key}
}
