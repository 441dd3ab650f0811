package filter

import (
	"sync"
)

// Cache holds parsed expressions keyed by their source text. Failed parses
// are not cached.
type Cache struct {
	entries sync.Map
}

func (c *Cache) Get(source string) (Expr, error) {
	if cached, loaded := c.entries.Load(source); loaded {
		return cached.(Expr), nil
	}
	expr, err := Parse(source)
	if err != nil {
		return nil, err
	}
	actual, _ := c.entries.LoadOrStore(source, expr)
	return actual.(Expr), nil
}
