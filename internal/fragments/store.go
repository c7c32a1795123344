/**
 * Fragment Store
 *
 * Live set of fragments and composed characters for one source image.
 * Entities hold coordinates into the source image, never pixel copies;
 * the only copy is the working raster rendered per entity for tracing.
 *
 * Composition flattens both sides into one entity whose union box is
 * recomputed from the full parts list every time, and whose working raster
 * is re-rendered from the source image at that box.
 */

package fragments

import (
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"

	"github.com/adverant/nexus/glyphforge-worker/internal/errors"
	"github.com/adverant/nexus/glyphforge-worker/internal/raster"
)

// Label sources set by the store itself
const (
	SourceUser     = "user"
	SourceComposed = "composed"
)

// Renderer produces the working raster for box of src
type Renderer func(src image.Image, box image.Rectangle) (*image.RGBA, error)

// WorkingRenderer renders onto the 300x300 tracing canvas
func WorkingRenderer(src image.Image, box image.Rectangle) (*image.RGBA, error) {
	img, _, err := raster.WorkingCanvas.Render(src, box)
	return img, err
}

// Entity is a fragment or a composed character
type Entity struct {
	ID string
	// Parts are source-image boxes in composition order; one for a bare fragment
	Parts []image.Rectangle
	// Box is the union of Parts
	Box   image.Rectangle
	Label Label
	// Source records how the label was obtained (recognizer step, user, memory)
	Source string

	working *image.RGBA
}

// Composed reports whether the entity was built from more than one fragment
func (e *Entity) Composed() bool {
	return len(e.Parts) > 1
}

func (e *Entity) clone() *Entity {
	c := *e
	c.Parts = append([]image.Rectangle(nil), e.Parts...)
	return &c
}

// StoreConfig holds store configuration
type StoreConfig struct {
	SpecialLabels string
	Renderer      Renderer
}

// Store holds the entities of one image in display order
type Store struct {
	mu       sync.Mutex
	src      image.Image
	special  SpecialSet
	render   Renderer
	order    []string
	entities map[string]*Entity
}

// NewStore creates an empty store over src
func NewStore(src image.Image, cfg *StoreConfig) *Store {
	if cfg == nil {
		cfg = &StoreConfig{}
	}
	special := cfg.SpecialLabels
	if special == "" {
		special = DefaultSpecialLabels
	}
	render := cfg.Renderer
	if render == nil {
		render = WorkingRenderer
	}
	return &Store{
		src:      src,
		special:  NewSpecialSet(special),
		render:   render,
		entities: make(map[string]*Entity),
	}
}

// Source returns the image all entity geometry refers to
func (s *Store) Source() image.Image {
	return s.src
}

// Add appends a fragment at box and returns its ID
func (s *Store) Add(box image.Rectangle, label Label, source string) (string, error) {
	if err := s.checkBox(box); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &Entity{
		ID:     uuid.New().String(),
		Parts:  []image.Rectangle{box},
		Box:    box,
		Label:  label,
		Source: source,
	}
	s.entities[e.ID] = e
	s.order = append(s.order, e.ID)
	return e.ID, nil
}

// Len returns the number of live entities
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Get returns a copy of the entity with id
func (s *Store) Get(id string) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return Entity{}, errors.NewFragmentNotFoundError(id)
	}
	return *e.clone(), nil
}

// Entities returns copies of all live entities in display order
func (s *Store) Entities() []Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.entities[id].clone())
	}
	return out
}

// Compose merges b into a. The composed character keeps a's ID and place
// in display order; b is removed.
func (s *Store) Compose(a, b string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compose(a, b)
}

func (s *Store) compose(a, b string) (string, error) {
	if a == b {
		return "", errors.NewInvalidCommandError("compose", "cannot compose an entity with itself")
	}
	ea, ok := s.entities[a]
	if !ok {
		return "", errors.NewFragmentNotFoundError(a)
	}
	eb, ok := s.entities[b]
	if !ok {
		return "", errors.NewFragmentNotFoundError(b)
	}

	parts := make([]image.Rectangle, 0, len(ea.Parts)+len(eb.Parts))
	parts = append(parts, ea.Parts...)
	parts = append(parts, eb.Parts...)
	box := UnionBox(parts)
	if err := s.checkBox(box); err != nil {
		return "", err
	}

	working, err := s.render(s.src, box)
	if err != nil {
		return "", fmt.Errorf("failed to render composed character: %w", err)
	}

	composed := &Entity{
		ID:      a,
		Parts:   parts,
		Box:     box,
		Label:   MergeLabels(s.special, ea.Label, ea.Composed(), ea.Box.Min.X, eb.Label, eb.Box.Min.X),
		Source:  SourceComposed,
		working: working,
	}

	s.entities[a] = composed
	if err := s.remove(b); err != nil {
		return "", err
	}
	return a, nil
}

// Delete removes the entity with id
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(id)
}

func (s *Store) remove(id string) error {
	if _, ok := s.entities[id]; !ok {
		return errors.NewFragmentNotFoundError(id)
	}
	delete(s.entities, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Relabel sets a user-supplied label
func (s *Store) Relabel(id string, label Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relabel(id, label)
}

func (s *Store) relabel(id string, label Label) error {
	e, ok := s.entities[id]
	if !ok {
		return errors.NewFragmentNotFoundError(id)
	}
	e.Label = label
	e.Source = SourceUser
	return nil
}

// ApplyRecognition records an asynchronously produced label for a bare
// fragment. It reports false, changing nothing, when the fragment was
// deleted or became part of a composition while recognition was in flight.
func (s *Store) ApplyRecognition(id string, label Label, source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok || e.Composed() {
		return false
	}
	e.Label = label
	e.Source = source
	return true
}

// Working returns the entity's working raster, rendering it on first use
func (s *Store) Working(id string) (*image.RGBA, error) {
	s.mu.Lock()
	e, ok := s.entities[id]
	if !ok {
		s.mu.Unlock()
		return nil, errors.NewFragmentNotFoundError(id)
	}
	if e.working != nil {
		w := e.working
		s.mu.Unlock()
		return w, nil
	}
	box := e.Box
	s.mu.Unlock()

	working, err := s.render(s.src, box)
	if err != nil {
		return nil, fmt.Errorf("failed to render working raster: %w", err)
	}

	s.mu.Lock()
	if cur, ok := s.entities[id]; ok && cur.Box == box {
		cur.working = working
	}
	s.mu.Unlock()
	return working, nil
}

func (s *Store) checkBox(box image.Rectangle) error {
	if box.Dx() <= 0 || box.Dy() <= 0 {
		return errors.NewDegenerateGeometryError("fragment", box.Dx(), box.Dy())
	}
	if vis := box.Intersect(s.src.Bounds()); vis.Empty() {
		return errors.NewDegenerateGeometryError("fragment outside image", vis.Dx(), vis.Dy())
	}
	return nil
}

// UnionBox is the smallest rectangle containing every part
func UnionBox(parts []image.Rectangle) image.Rectangle {
	var u image.Rectangle
	for i, p := range parts {
		if i == 0 {
			u = p
			continue
		}
		u = u.Union(p)
	}
	return u
}
