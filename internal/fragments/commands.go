package fragments

import (
	"fmt"
	"image"

	"github.com/adverant/nexus/glyphforge-worker/internal/errors"
)

// Op names an edit applied to the store
type Op string

const (
	OpCompose Op = "compose"
	OpDelete  Op = "delete"
	OpRelabel Op = "relabel"
)

// Command is one user edit. Target is the entity acted on; Other is the
// entity merged into Target by compose; Label is the new label for relabel.
type Command struct {
	Op     Op     `json:"op"`
	Target string `json:"target"`
	Other  string `json:"other,omitempty"`
	Label  string `json:"label,omitempty"`
}

func Compose(target, other string) Command {
	return Command{Op: OpCompose, Target: target, Other: other}
}

func Delete(id string) Command {
	return Command{Op: OpDelete, Target: id}
}

func Relabel(id, label string) Command {
	return Command{Op: OpRelabel, Target: id, Label: label}
}

// Apply runs cmds in order as one batch. If any command fails the store is
// left exactly as it was before the call.
func (s *Store) Apply(cmds []Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	savedOrder := append([]string(nil), s.order...)
	savedEntities := make(map[string]*Entity, len(s.entities))
	for id, e := range s.entities {
		savedEntities[id] = e.clone()
	}

	for i, cmd := range cmds {
		if err := s.apply(cmd); err != nil {
			s.order = savedOrder
			s.entities = savedEntities
			return fmt.Errorf("command %d (%s): %w", i, cmd.Op, err)
		}
	}
	return nil
}

func (s *Store) apply(cmd Command) error {
	if cmd.Target == "" {
		return errors.NewInvalidCommandError(string(cmd.Op), "missing target")
	}
	switch cmd.Op {
	case OpCompose:
		if cmd.Other == "" {
			return errors.NewInvalidCommandError(string(cmd.Op), "missing entity to compose with")
		}
		_, err := s.compose(cmd.Target, cmd.Other)
		return err
	case OpDelete:
		return s.remove(cmd.Target)
	case OpRelabel:
		return s.relabel(cmd.Target, NewLabel(cmd.Label))
	default:
		return errors.NewInvalidCommandError(string(cmd.Op), "unknown operation")
	}
}

// Record is the persisted form of an entity
type Record struct {
	ID     string            `json:"id"`
	Parts  []image.Rectangle `json:"parts"`
	Label  Label             `json:"label"`
	Source string            `json:"source,omitempty"`
}

// Records returns the store contents in display order
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		e := s.entities[id]
		out = append(out, Record{
			ID:     e.ID,
			Parts:  append([]image.Rectangle(nil), e.Parts...),
			Label:  e.Label,
			Source: e.Source,
		})
	}
	return out
}

// Restore rebuilds a store from persisted records. Working rasters are
// rendered lazily.
func Restore(src image.Image, records []Record, cfg *StoreConfig) (*Store, error) {
	s := NewStore(src, cfg)
	for _, r := range records {
		if r.ID == "" || len(r.Parts) == 0 {
			return nil, errors.NewInvalidCommandError("restore", "record without id or parts")
		}
		if _, dup := s.entities[r.ID]; dup {
			return nil, errors.NewInvalidCommandError("restore", "duplicate id "+r.ID)
		}
		box := UnionBox(r.Parts)
		if err := s.checkBox(box); err != nil {
			return nil, err
		}
		s.entities[r.ID] = &Entity{
			ID:     r.ID,
			Parts:  append([]image.Rectangle(nil), r.Parts...),
			Box:    box,
			Label:  r.Label,
			Source: r.Source,
		}
		s.order = append(s.order, r.ID)
	}
	return s, nil
}
