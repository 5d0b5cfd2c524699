package pages

import (
	"fmt"
	"sync"

	"github.com/itiky/drawsync/model"
	"github.com/itiky/drawsync/storage"
)

type (
	// ShapeCache keeps per-page shape loads around page switches so a
	// revisited page does not refetch, and invalidates a page entry whenever
	// the local store commits a user-sourced change to one of its shapes.
	ShapeCache struct {
		mu sync.Mutex
		// Config
		dir *Directory
		// State
		shapes map[string][]model.Record
	}
)

// NewShapeCache creates a new ShapeCache object.
func NewShapeCache(dir *Directory) (*ShapeCache, error) {
	if dir == nil {
		return nil, fmt.Errorf("%s: nil", "dir")
	}

	return &ShapeCache{
		dir:    dir,
		shapes: make(map[string][]model.Record),
	}, nil
}

// Shapes returns the cached shape records of a page, fetching on a miss.
func (c *ShapeCache) Shapes(pageId string) ([]model.Record, error) {
	c.mu.Lock()
	cached, found := c.shapes[pageId]
	c.mu.Unlock()

	if found {
		return cached, nil
	}

	shapes, err := c.dir.PageShapes(pageId)
	if err != nil {
		return nil, fmt.Errorf("PageShapes (%s): %w", pageId, err)
	}

	c.mu.Lock()
	c.shapes[pageId] = shapes
	c.mu.Unlock()

	return shapes, nil
}

// Invalidate drops the cache entry of a page.
func (c *ShapeCache) Invalidate(pageId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.shapes, pageId)
}

// Watch subscribes the cache to a store: a user-sourced shape/binding change
// invalidates the owning page entry. Returns the unsubscribe func.
func (c *ShapeCache) Watch(st *storage.Store) func() {
	return st.Subscribe(func(ev storage.ChangeEvent) {
		if ev.Source != storage.SourceLocal {
			return
		}

		tn := ev.Record.TypeName()
		if tn != model.ShapeType && tn != model.BindingType {
			return
		}

		parentId := ev.Record.ParentId()
		if parentId == "" && ev.Prior != nil {
			parentId = ev.Prior.ParentId()
		}
		if pageId := model.PageIdOfRecordId(parentId); pageId != "" {
			c.Invalidate(pageId)
		}
	})
}
