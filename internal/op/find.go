package op

import (
	"github.com/kenneth/kms-token-provider/internal/attrs"
	"github.com/kenneth/kms-token-provider/internal/handle"
	"github.com/kenneth/kms-token-provider/internal/object"
)

// Find buffers the handles matching a template at Init time and streams
// them out in fixed-size batches, in the insertion order the slot assigned
// them.
type Find struct {
	handles []handle.Handle
	cursor  int
}

// NewFind walks set selecting every object matching template, using
// resolve to look up (or assign) the handle for each match, and returns a
// Find cursor ready for FindObjects.
func NewFind(set *object.Set, template map[attrs.Code]attrs.Value, resolve func(*object.Object) handle.Handle) *Find {
	matches := set.Find(template)
	hs := make([]handle.Handle, len(matches))
	for i, o := range matches {
		hs[i] = resolve(o)
	}
	return &Find{handles: hs}
}

// Next returns up to max remaining handles and advances the cursor.
func (f *Find) Next(max int) []handle.Handle {
	remaining := f.handles[f.cursor:]
	if max > len(remaining) {
		max = len(remaining)
	}
	out := remaining[:max]
	f.cursor += max
	return out
}

// Final drops any remaining buffered handles. A subsequent FindObjectsInit
// is always permitted after this.
func (f *Find) Final() {
	f.handles = nil
	f.cursor = 0
}
