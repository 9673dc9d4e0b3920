// Package compose reconciles independently produced audio and caption results
// with the scenes that requested them.
package compose

import (
	"github.com/bobarin/scenecast/internal/models"
)

// Lookup indexes one job's produced assets by submission position, by
// normalized scene index and by scene identifier.
type Lookup[A models.Asset] struct {
	Kind    string // "audio" or "caption", used in log lines
	Ordered []A    // position = submission order, invalid entries kept in place

	// HasSceneIndex and HasSceneID record whether the source data actually
	// carried explicit indices or identifiers, as opposed to positions only.
	HasSceneIndex bool
	HasSceneID    bool

	byIndex map[int]int    // normalized index -> position in Ordered
	bySlot  map[int]int    // raw position -> position, only where no entry declared that index
	byID    map[string]int // scene id -> position in Ordered
}

// BuildLookup indexes results. Each valid entry is registered under its
// normalized scene index (explicit index, else number-1, else its position),
// first writer wins, and then under its raw position when no entry claimed
// that index. Declared indices always win over raw positions regardless of
// submission order. Identifiers register first writer wins. Nil entries keep
// their position but are never registered.
func BuildLookup[A models.Asset](kind string, results []A) *Lookup[A] {
	l := &Lookup[A]{
		Kind:    kind,
		Ordered: make([]A, len(results)),
		byIndex: make(map[int]int, len(results)),
		bySlot:  make(map[int]int),
		byID:    make(map[string]int),
	}
	copy(l.Ordered, results)

	for i, entry := range results {
		if !entry.Valid() {
			continue
		}
		ref := entry.Identity()

		idx, explicit := ref.ExplicitIndex()
		if explicit {
			l.HasSceneIndex = true
		} else {
			idx = i
		}
		if _, taken := l.byIndex[idx]; !taken {
			l.byIndex[idx] = i
		}

		if ref.ID != "" {
			l.HasSceneID = true
			if _, taken := l.byID[ref.ID]; !taken {
				l.byID[ref.ID] = i
			}
		}
	}

	for i, entry := range results {
		if !entry.Valid() {
			continue
		}
		if _, taken := l.byIndex[i]; !taken {
			l.bySlot[i] = i
		}
	}

	return l
}

// ByIndex returns the entry registered under a normalized scene index and its position.
func (l *Lookup[A]) ByIndex(idx int) (A, int, bool) {
	var zero A
	if l == nil {
		return zero, -1, false
	}
	pos, ok := l.byIndex[idx]
	if !ok {
		pos, ok = l.bySlot[idx]
	}
	if !ok {
		return zero, -1, false
	}
	return l.Ordered[pos], pos, true
}

// byDeclaredIndex is ByIndex without raw-position registrations.
func (l *Lookup[A]) byDeclaredIndex(idx int) (A, int, bool) {
	var zero A
	if l == nil {
		return zero, -1, false
	}
	pos, ok := l.byIndex[idx]
	if !ok {
		return zero, -1, false
	}
	return l.Ordered[pos], pos, true
}

// ByID returns the entry registered under a scene identifier and its position.
func (l *Lookup[A]) ByID(id string) (A, int, bool) {
	var zero A
	if l == nil || id == "" {
		return zero, -1, false
	}
	pos, ok := l.byID[id]
	if !ok {
		return zero, -1, false
	}
	return l.Ordered[pos], pos, true
}

// Len is the number of submitted entries, including invalid ones.
func (l *Lookup[A]) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Ordered)
}

// NormalizedIndex returns the scene index the entry at pos is registered under.
func (l *Lookup[A]) NormalizedIndex(pos int) int {
	if l == nil || pos < 0 || pos >= len(l.Ordered) {
		return pos
	}
	if idx, ok := l.Ordered[pos].Identity().ExplicitIndex(); ok {
		return idx
	}
	return pos
}
