package gpuscene

import (
	"log"
	"sync"
)

// Renderable is one entity's render-relevant component data as exposed by the
// entity store.
type Renderable struct {
	// Entity is the entity id.
	Entity uint32

	// Instance is the instance data derived from the entity's components.
	Instance Instance
}

// EntityView is the slice of the entity/component store the reconciler
// consumes: the set of entities that should be on the GPU, the set that has
// lost the required components, and a "world transform changed" tag the
// reconciler clears once it has picked the change up.
type EntityView interface {
	// Renderables returns every entity that currently has the renderer and
	// transform components required for a GPU scene slot.
	Renderables() []Renderable

	// Orphans returns the ids of entities that previously had slots assigned
	// but have since lost the required components.
	Orphans() []uint32

	// TransformChanged reports whether the entity's world transform changed
	// since the tag was last cleared.
	TransformChanged(entity uint32) bool

	// ClearTransformChanged removes the transform-changed tag from the entity.
	ClearTransformChanged(entity uint32)
}

// ReconcileStats summarizes what one reconciliation pass did.
type ReconcileStats struct {
	// Allocated is the number of slots newly assigned to entities.
	Allocated int

	// Updated is the number of existing slots refreshed from changed transforms.
	Updated int

	// Freed is the number of slots deactivated and returned to the freelist.
	Freed int

	// Deferred is the number of entities that could not get a slot because
	// capacity was exhausted; they retry next frame.
	Deferred int
}

// reconciler is the implementation of the Reconciler interface.
type reconciler struct {
	mu sync.Mutex

	scene Scene
	slots map[uint32]SlotIndex
}

// Reconciler keeps the GPU scene's slot assignments in step with the entity
// store. Run once per frame before Flush; running it twice with no entity
// changes allocates and frees nothing the second time.
type Reconciler interface {
	// Reconcile walks the entity view: entities without a slot get one with an
	// initial active instance, entities with a changed transform get their
	// slot re-queued, and orphaned entities get a deactivating update before
	// their slot is freed.
	//
	// Parameters:
	//   - view: the entity store view to reconcile against
	//
	// Returns:
	//   - ReconcileStats: counts of the allocations, updates, and frees performed
	Reconcile(view EntityView) ReconcileStats

	// Slot returns the slot currently assigned to the entity.
	//
	// Parameters:
	//   - entity: the entity id to look up
	//
	// Returns:
	//   - SlotIndex: the assigned slot
	//   - bool: false when the entity has no slot
	Slot(entity uint32) (SlotIndex, bool)
}

var _ Reconciler = &reconciler{}

// NewReconciler creates a Reconciler driving slot lifecycle for the given
// scene.
//
// Parameters:
//   - scene: the GPU scene slots are allocated from (must not be nil)
//
// Returns:
//   - Reconciler: the newly created reconciler
func NewReconciler(scene Scene) Reconciler {
	if scene == nil {
		panic("gpuscene: NewReconciler requires a non-nil Scene")
	}
	return &reconciler{
		scene: scene,
		slots: make(map[uint32]SlotIndex),
	}
}

func (r *reconciler) Reconcile(view EntityView) ReconcileStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats ReconcileStats

	for _, renderable := range view.Renderables() {
		slot, ok := r.slots[renderable.Entity]
		if !ok {
			slot = r.scene.AllocateSlot()
			if slot == InvalidSlot {
				stats.Deferred++
				continue
			}
			r.slots[renderable.Entity] = slot
			r.scene.QueueUpdate(slot, renderable.Instance)
			view.ClearTransformChanged(renderable.Entity)
			stats.Allocated++
			continue
		}

		if view.TransformChanged(renderable.Entity) {
			r.scene.QueueUpdate(slot, renderable.Instance)
			view.ClearTransformChanged(renderable.Entity)
			stats.Updated++
		}
	}

	for _, entity := range view.Orphans() {
		slot, ok := r.slots[entity]
		if !ok {
			continue
		}

		// Deactivate before freeing so GPU work still reading the slot this
		// frame sees an inactive instance, not the next occupant's data.
		r.scene.QueueUpdate(slot, Instance{Entity: entity, BoundingSphere: Deactivated()})
		r.scene.FreeSlot(slot)
		delete(r.slots, entity)
		stats.Freed++
	}

	if stats.Deferred > 0 {
		log.Printf("[gpuscene] %d entities deferred, instance capacity %d exhausted", stats.Deferred, r.scene.Capacity())
	}
	return stats
}

func (r *reconciler) Slot(entity uint32) (SlotIndex, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[entity]
	return slot, ok
}
