package domain

import (
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Story is a board column grouping tasks. Position drives the default
// ordering on the board, with Created breaking ties.
type Story struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Position int       `json:"position"`
	Created  time.Time `json:"created"`
}

// Payload is the raw field map of a mutation request body. Keys are matched
// against the entity's declared fields; anything else is rejected.
type Payload map[string]json.RawMessage

// NewStory builds a story from a creation payload. The board client may
// supply its own id; one is assigned otherwise. Created is always assigned
// here and is not settable.
func NewStory(p Payload) (*Story, error) {
	s := &Story{Created: time.Now().UTC()}
	for key, raw := range p {
		switch key {
		case "id":
			if err := unmarshalField("story", key, raw, &s.ID); err != nil {
				return nil, err
			}
		case "title":
			if err := unmarshalField("story", key, raw, &s.Title); err != nil {
				return nil, err
			}
		case "position":
			if err := unmarshalField("story", key, raw, &s.Position); err != nil {
				return nil, err
			}
		default:
			return nil, InvalidFieldError{Entity: "story", Field: key}
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return s, nil
}

// Apply assigns the updatable fields named in p. Identity fields (id,
// created) are update-immune and rejected like any unknown key.
func (s *Story) Apply(p Payload) error {
	for key, raw := range p {
		switch key {
		case "title":
			if err := unmarshalField("story", key, raw, &s.Title); err != nil {
				return err
			}
		case "position":
			if err := unmarshalField("story", key, raw, &s.Position); err != nil {
				return err
			}
		default:
			return InvalidFieldError{Entity: "story", Field: key}
		}
	}
	return nil
}

func unmarshalField(entity, field string, raw json.RawMessage, dst any) error {
	if err := sonic.Unmarshal(raw, dst); err != nil {
		return InvalidFieldError{Entity: entity, Field: field, Cause: err}
	}
	return nil
}
