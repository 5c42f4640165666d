package object

import "github.com/kenneth/kms-token-provider/internal/attrs"

// Set is an immutable snapshot of every object a slot currently exposes. A
// refresh builds an entirely new Set and the slot swaps its pointer to it
// atomically; nothing ever mutates a Set in place, so a session mid-scan
// over one snapshot never observes a half-built refresh.
type Set struct {
	objects []*Object
}

// NewSet builds a Set from a flat slice of objects. The slice is copied
// defensively; callers may reuse or mutate it afterward.
func NewSet(objects []*Object) *Set {
	cp := make([]*Object, len(objects))
	copy(cp, objects)
	return &Set{objects: cp}
}

// Empty is the zero-object Set, used before the first successful refresh.
var Empty = &Set{}

// All returns every object in the snapshot. The returned slice must not be
// mutated by the caller.
func (s *Set) All() []*Object {
	if s == nil {
		return nil
	}
	return s.objects
}

// Len reports how many objects the snapshot holds.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.objects)
}

// Find returns every object matching every attribute in template. An empty
// template matches every object in the snapshot.
func (s *Set) Find(template map[attrs.Code]attrs.Value) []*Object {
	if s == nil {
		return nil
	}
	var out []*Object
	for _, o := range s.objects {
		if matchesAll(o, template) {
			out = append(out, o)
		}
	}
	return out
}

func matchesAll(o *Object, template map[attrs.Code]attrs.Value) bool {
	for code, want := range template {
		if !o.Attributes.Matches(code, want) {
			return false
		}
	}
	return true
}
