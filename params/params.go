/*Package params implements a locked cache of named, typed control values.

A Cache is shared between any number of client goroutines and the goroutines
doing hardware work.  It is guarded by a single mutex which callers take
explicitly with Lock and Unlock; this lets a caller validate, update several
values and publish the batch as one atomic step.

Define and Subscribe take the lock themselves.  Every other method requires the
caller to hold it.

Writes mark a value as changed.  Notify delivers all changed values to the
subscribers, the same way a control system expects a callback after a batch of
writes.
*/
package params

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Type is the type of a value held in the cache
type Type int

const (
	// Int is an integer value
	Int Type = iota

	// Float is a float64 value
	Float

	// String is a string value
	String
)

func (t Type) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Status is the success or error status attached to each value
type Status int

const (
	// OK means the value is valid
	OK Status = iota

	// Error means the last attempt to update the value failed; the value
	// itself is whatever was last written successfully
	Error
)

func (s Status) String() string {
	if s == OK {
		return "ok"
	}
	return "error"
}

var (
	// ErrUnknown is generated when a name is not defined in the cache
	ErrUnknown = errors.New("params: unknown parameter")

	// ErrType is generated when a value is accessed as the wrong type
	ErrType = errors.New("params: wrong parameter type")

	// ErrDefined is generated when a name is defined twice
	ErrDefined = errors.New("params: parameter already defined")
)

// Value is a snapshot of one parameter
type Value struct {
	Name   string
	Type   Type
	Int    int
	Float  float64
	Str    string
	Status Status
}

// Interface returns the value as an interface holding the concrete type
func (v Value) Interface() interface{} {
	switch v.Type {
	case Float:
		return v.Float
	case String:
		return v.Str
	default:
		return v.Int
	}
}

type entry struct {
	Value
	changed bool
}

// Cache is a set of named values guarded by one mutex.
// The zero value is not usable, use New.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	subs    map[*Subscription]struct{}
}

// New returns an empty cache
func New() *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		subs:    make(map[*Subscription]struct{}),
	}
}

// Lock acquires the cache lock
func (c *Cache) Lock() { c.mu.Lock() }

// Unlock releases the cache lock
func (c *Cache) Unlock() { c.mu.Unlock() }

// Define creates a parameter with its zero value and OK status
func (c *Cache) Define(name string, t Type) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDefined, name)
	}
	c.entries[name] = &entry{Value: Value{Name: name, Type: t}}
	return nil
}

func (c *Cache) lookup(name string, t Type) (*entry, error) {
	e, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	if e.Type != t {
		return nil, fmt.Errorf("%w: %s is %s, not %s", ErrType, name, e.Type, t)
	}
	return e, nil
}

// mustLookup is used by the setters.  Writing an undefined name is a
// programming error, not a runtime condition.
func (c *Cache) mustLookup(name string, t Type) *entry {
	e, err := c.lookup(name, t)
	if err != nil {
		panic(err)
	}
	return e
}

// TypeOf returns the type of a parameter
func (c *Cache) TypeOf(name string) (Type, error) {
	e, ok := c.entries[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return e.Type, nil
}

// SetInt writes an integer parameter
func (c *Cache) SetInt(name string, v int) {
	e := c.mustLookup(name, Int)
	e.Int = v
	e.changed = true
}

// SetFloat writes a float parameter
func (c *Cache) SetFloat(name string, v float64) {
	e := c.mustLookup(name, Float)
	e.Float = v
	e.changed = true
}

// SetString writes a string parameter
func (c *Cache) SetString(name string, v string) {
	e := c.mustLookup(name, String)
	e.Str = v
	e.changed = true
}

// SetStatus sets the status of any parameter
func (c *Cache) SetStatus(name string, s Status) {
	e, ok := c.entries[name]
	if !ok {
		panic(fmt.Errorf("%w: %s", ErrUnknown, name))
	}
	if e.Status != s {
		e.Status = s
		e.changed = true
	}
}

// GetInt reads an integer parameter
func (c *Cache) GetInt(name string) (int, error) {
	e, err := c.lookup(name, Int)
	if err != nil {
		return 0, err
	}
	return e.Int, nil
}

// GetFloat reads a float parameter
func (c *Cache) GetFloat(name string) (float64, error) {
	e, err := c.lookup(name, Float)
	if err != nil {
		return 0, err
	}
	return e.Float, nil
}

// GetString reads a string parameter
func (c *Cache) GetString(name string) (string, error) {
	e, err := c.lookup(name, String)
	if err != nil {
		return "", err
	}
	return e.Str, nil
}

// Get returns a snapshot of one parameter of any type
func (c *Cache) Get(name string) (Value, error) {
	e, ok := c.entries[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return e.Value, nil
}

// Snapshot returns every parameter sorted by name
func (c *Cache) Snapshot() []Value {
	out := make([]Value, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Value)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Notify delivers every value changed since the last call to the
// subscribers, in name order.  It never blocks.
func (c *Cache) Notify() {
	var changed []Value
	for _, e := range c.entries {
		if e.changed {
			changed = append(changed, e.Value)
			e.changed = false
		}
	}
	if len(changed) == 0 {
		return
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].Name < changed[j].Name })
	for sub := range c.subs {
		for _, v := range changed {
			sub.deliver(v)
		}
	}
}

// Subscription receives values published by Notify
type Subscription struct {
	ch    chan Value
	cache *Cache
}

// Subscribe registers a new subscription with a queue of the given length.
// When the queue is full the oldest value is dropped.
func (c *Cache) Subscribe(queueLen int) *Subscription {
	if queueLen <= 0 {
		queueLen = 16
	}
	sub := &Subscription{ch: make(chan Value, queueLen), cache: c}
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
	return sub
}

// C returns the channel values are delivered on
func (s *Subscription) C() <-chan Value { return s.ch }

// Unsubscribe stops delivery.  The channel is not closed.
func (s *Subscription) Unsubscribe() {
	s.cache.mu.Lock()
	delete(s.cache.subs, s)
	s.cache.mu.Unlock()
}

// deliver runs under the cache lock, which makes the drop-oldest step safe
// against other publishers.
func (s *Subscription) deliver(v Value) {
	select {
	case s.ch <- v:
	default:
		select {
		case <-s.ch:
		default:
		}
		s.ch <- v
	}
}
