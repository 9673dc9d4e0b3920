package compose

import (
	"log"

	"github.com/bobarin/scenecast/internal/models"
)

// MatchRule records which rule bound an asset to a scene.
type MatchRule int

const (
	MatchNone MatchRule = iota
	MatchSceneID
	MatchSceneIndex
	MatchSceneNumber
	MatchPosition
	MatchSequential
)

func (r MatchRule) String() string {
	switch r {
	case MatchSceneID:
		return "scene_id"
	case MatchSceneIndex:
		return "scene_index"
	case MatchSceneNumber:
		return "scene_number"
	case MatchPosition:
		return "position"
	case MatchSequential:
		return "sequential"
	}
	return "none"
}

// Confident reports whether the match came from an explicit identifier or index.
func (r MatchRule) Confident() bool {
	return r == MatchSceneID || r == MatchSceneIndex
}

// Match is the outcome of resolving one scene against a lookup.
type Match[A models.Asset] struct {
	Asset    A
	Position int // position in Lookup.Ordered, -1 when nothing matched
	Rule     MatchRule
}

func (m Match[A]) Found() bool { return m.Rule != MatchNone }

// ResolveOptions tunes resolution. Strict disables the sequential fallback.
type ResolveOptions struct {
	Strict bool
}

func noMatch[A models.Asset]() Match[A] {
	return Match[A]{Position: -1, Rule: MatchNone}
}

// ResolveScene picks the single best asset for the scene at position.
// Rules are tried in order: scene id, explicit scene index, scene number,
// position, then the sequential fallback.
func ResolveScene[A models.Asset](scene models.Scene, position int, l *Lookup[A], opts ResolveOptions) Match[A] {
	if m := resolveExplicit(scene, l, nil); m.Found() {
		return m
	}
	return resolveImplicit(scene, position, l, nil, opts, false)
}

// ResolveAll resolves every scene in one pass set. Explicit id/index matches
// are claimed first, then number and position matches against declared
// indices, and only then raw positions and the sequential fallback. No asset
// is bound to more than one scene, so a result that landed in another
// scene's slot is never taken while its own scene can still claim it.
func ResolveAll[A models.Asset](scenes []models.Scene, l *Lookup[A], opts ResolveOptions) []Match[A] {
	matches := make([]Match[A], len(scenes))
	for i := range matches {
		matches[i] = noMatch[A]()
	}
	claimed := make(map[int]bool, len(scenes))

	pass := func(resolve func(i int, scene models.Scene) Match[A]) {
		for i, scene := range scenes {
			if matches[i].Found() {
				continue
			}
			matches[i] = resolve(i, scene)
			if matches[i].Found() {
				claimed[matches[i].Position] = true
			}
		}
	}

	pass(func(_ int, scene models.Scene) Match[A] {
		return resolveExplicit(scene, l, claimed)
	})
	pass(func(i int, scene models.Scene) Match[A] {
		return resolveImplicit(scene, i, l, claimed, opts, true)
	})
	pass(func(i int, scene models.Scene) Match[A] {
		return resolveImplicit(scene, i, l, claimed, opts, false)
	})

	return matches
}

func resolveExplicit[A models.Asset](scene models.Scene, l *Lookup[A], claimed map[int]bool) Match[A] {
	if l == nil {
		return noMatch[A]()
	}

	if scene.ID != "" {
		if a, pos, ok := l.ByID(scene.ID); ok && !claimed[pos] {
			return Match[A]{Asset: a, Position: pos, Rule: MatchSceneID}
		}
	}

	if scene.Index != nil && *scene.Index >= 0 {
		if a, pos, ok := l.ByIndex(*scene.Index); ok && !claimed[pos] {
			return Match[A]{Asset: a, Position: pos, Rule: MatchSceneIndex}
		}
	}

	return noMatch[A]()
}

// resolveImplicit applies the number, position and sequential rules. With
// declaredOnly set, raw-position registrations and the sequential fallback
// are skipped.
func resolveImplicit[A models.Asset](scene models.Scene, position int, l *Lookup[A], claimed map[int]bool, opts ResolveOptions, declaredOnly bool) Match[A] {
	if l == nil {
		return noMatch[A]()
	}

	byIndex := l.ByIndex
	if declaredOnly {
		byIndex = l.byDeclaredIndex
	}

	if scene.Number >= 1 {
		if a, pos, ok := byIndex(scene.Number - 1); ok && !claimed[pos] {
			return Match[A]{Asset: a, Position: pos, Rule: MatchSceneNumber}
		}
	}

	if position >= 0 {
		if a, pos, ok := byIndex(position); ok && !claimed[pos] {
			return Match[A]{Asset: a, Position: pos, Rule: MatchPosition}
		}
	}

	if declaredOnly {
		return noMatch[A]()
	}

	// Sequential fallback only when neither side carries ids or explicit
	// indices; a scene number alone does not disable it.
	if l.HasSceneIndex || l.HasSceneID || scene.ID != "" || scene.Index != nil {
		return noMatch[A]()
	}
	for pos, a := range l.Ordered {
		if !a.Valid() || claimed[pos] {
			continue
		}
		if opts.Strict {
			log.Printf("[Resolver] Warning: no %s asset for scene %d (strict mode, sequential fallback disabled)", l.Kind, scene.Number)
			return noMatch[A]()
		}
		log.Printf("[Resolver] Warning: binding %s asset at position %d to scene %d sequentially; content may not correspond to this scene", l.Kind, pos, scene.Number)
		return Match[A]{Asset: a, Position: pos, Rule: MatchSequential}
	}

	return noMatch[A]()
}
