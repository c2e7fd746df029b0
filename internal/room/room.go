package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/odysseylabs/odyssey/backend/internal/ordering"
	"github.com/odysseylabs/odyssey/backend/internal/slides"
)

// ErrDesync indicates the replica could not be reconciled with durable
// storage even after a forced re-seed.
var ErrDesync = errors.New("room: replication desync")

const viewBufferSize = 16

// Room is the reconciliation bridge for one presentation: it owns the
// replicated ordering set, keeps it consistent with the durable store, and
// republishes an access-filtered view to every attached observer.
type Room struct {
	id             string
	presentationID slides.PresentationID
	store          *slides.Service
	session        Session
	logger         *zap.Logger

	synced chan struct{}

	// mu orders every set mutation and the broadcast that follows it, so no
	// observer ever sees views out of mutation order.
	mu             sync.Mutex
	set            *ordering.Set
	observers      map[int64]*observer
	nextObserverID int64
}

type observer struct {
	id     int64
	access slides.AccessContext
	views  chan []ordering.Record
}

func newRoom(roomID string, presentationID slides.PresentationID, store *slides.Service, session Session, logger *zap.Logger) *Room {
	r := &Room{
		id:             roomID,
		presentationID: presentationID,
		store:          store,
		session:        session,
		logger:         logger,
		synced:         make(chan struct{}),
		set:            ordering.NewSet(),
		observers:      make(map[int64]*observer),
	}

	session.OnOp(r.handleRemoteOp)
	session.OnDesync(func() { r.resync(context.Background()) })
	session.OnSynced(r.markSynced)
	return r
}

func (r *Room) lock() {
	r.mu.Lock()
}

func (r *Room) unlock() {
	r.mu.Unlock()
}

func (r *Room) markSynced() {
	select {
	case <-r.synced:
	default:
		close(r.synced)
	}
}

// waitSynced blocks until the live session reports initial sync. The
// emptiness check that gates seeding must not run before this point: an
// unsynced replica looks empty even when another client already populated
// the room.
func (r *Room) waitSynced(ctx context.Context) error {
	select {
	case <-r.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// seedIfEmpty populates the replicated set from the durable store exactly
// once. A racing seeder is harmless: seed operations deduplicate by
// deterministic id, and a set that already holds operations skips seeding
// entirely.
func (r *Room) seedIfEmpty(ctx context.Context) error {
	stored, err := r.store.ListSlides(ctx, r.presentationID)
	if err != nil {
		return err
	}

	r.lock()
	defer r.unlock()
	ops, seeded, err := r.set.Seed(recordsFromSlides(stored))
	if err != nil {
		return err
	}
	if !seeded {
		return nil
	}
	for _, op := range ops {
		r.session.Broadcast(op)
	}
	r.refreshObserversLocked()
	return nil
}

// createSlide persists the insertion first, then applies the convergent
// insert so every live observer converges without re-reading storage.
func (r *Room) createSlide(ctx context.Context, atPosition int) (slides.Slide, error) {
	slide, err := r.store.CreateSlide(ctx, r.presentationID, atPosition)
	if err != nil {
		r.resyncAfterStorageFailure(err)
		return slides.Slide{}, err
	}

	r.lock()
	defer r.unlock()
	op, err := r.set.Insert(recordFromSlide(slide), slide.Position)
	if err != nil {
		r.logger.Warn("replica insert failed, forcing re-seed",
			zap.String("room", r.id), zap.Error(err))
		r.resyncLocked(ctx)
		return slide, nil
	}
	r.session.Broadcast(op)
	r.refreshObserversLocked()
	return slide, nil
}

func (r *Room) deleteSlide(ctx context.Context, slideID slides.SlideID) error {
	if _, err := r.store.DeleteSlide(ctx, slideID); err != nil {
		r.resyncAfterStorageFailure(err)
		return err
	}

	r.lock()
	defer r.unlock()
	op, err := r.set.Delete(slideID.String())
	if err != nil {
		r.logger.Warn("replica delete failed, forcing re-seed",
			zap.String("room", r.id), zap.Error(err))
		r.resyncLocked(ctx)
		return nil
	}
	r.session.Broadcast(op)
	r.refreshObserversLocked()
	return nil
}

func (r *Room) reorderSlide(ctx context.Context, slideID slides.SlideID, newPosition int) error {
	if _, err := r.store.ReorderSlide(ctx, slideID, newPosition); err != nil {
		r.resyncAfterStorageFailure(err)
		return err
	}

	r.lock()
	defer r.unlock()
	op, err := r.set.Reorder(slideID.String(), newPosition)
	if err != nil {
		r.logger.Warn("replica reorder failed, forcing re-seed",
			zap.String("room", r.id), zap.Error(err))
		r.resyncLocked(ctx)
		return nil
	}
	r.session.Broadcast(op)
	r.refreshObserversLocked()
	return nil
}

func (r *Room) handleRemoteOp(op ordering.Op) {
	r.lock()
	defer r.unlock()

	applied, err := r.set.Apply(op)
	if err != nil {
		r.logger.Warn("rejecting replicated op",
			zap.String("room", r.id), zap.String("op_id", op.OpID), zap.Error(err))
		return
	}
	if !applied {
		return
	}
	if op.Kind == ordering.OpReorder && !containsSlide(r.set.Slides(), op.SlideID) {
		r.logger.Warn("replicated op references unknown slide, forcing re-seed",
			zap.String("room", r.id), zap.String("slide_id", op.SlideID))
		r.resyncLocked(context.Background())
		return
	}
	r.refreshObserversLocked()
}

// resync is the recovery primitive: no partial rollback of the replica is
// attempted, the whole set is reloaded from durable truth.
func (r *Room) resync(ctx context.Context) {
	r.lock()
	defer r.unlock()
	r.resyncLocked(ctx)
}

func (r *Room) resyncLocked(ctx context.Context) {
	stored, err := r.store.ListSlides(ctx, r.presentationID)
	if err != nil {
		r.logger.Error("re-seed failed",
			zap.String("room", r.id), zap.Error(err))
		return
	}
	if err := r.set.Replace(recordsFromSlides(stored)); err != nil {
		r.logger.Error("re-seed failed",
			zap.String("room", r.id), zap.Error(err))
		return
	}
	r.logger.Info("room re-seeded from durable store",
		zap.String("room", r.id), zap.Int("slides", len(stored)))
	r.refreshObserversLocked()
}

func (r *Room) resyncAfterStorageFailure(err error) {
	if errors.Is(err, slides.ErrNotFound) || errors.Is(err, slides.ErrForbidden) {
		return
	}
	// The replica was never mutated, but a failed transaction may have raced
	// with another writer whose ops we already hold.
	go r.resync(context.Background())
}

func (r *Room) attachObserver(access slides.AccessContext) *observer {
	r.lock()
	defer r.unlock()

	r.nextObserverID++
	obs := &observer{
		id:     r.nextObserverID,
		access: access,
		views:  make(chan []ordering.Record, viewBufferSize),
	}
	r.observers[obs.id] = obs
	deliverView(obs, filterView(r.set.Slides(), access))
	return obs
}

func (r *Room) detachObserver(id int64) int {
	r.lock()
	defer r.unlock()
	delete(r.observers, id)
	return len(r.observers)
}

func (r *Room) slidesView(access slides.AccessContext) []ordering.Record {
	r.lock()
	defer r.unlock()
	return filterView(r.set.Slides(), access)
}

func (r *Room) refreshObserversLocked() {
	view := r.set.Slides()
	for _, obs := range r.observers {
		deliverView(obs, filterView(view, obs.access))
	}
}

// deliverView drops the oldest pending view when the observer is slow: views
// are full snapshots, so the latest delivery always supersedes anything
// skipped.
func deliverView(obs *observer, view []ordering.Record) {
	select {
	case obs.views <- view:
		return
	default:
	}
	select {
	case <-obs.views:
	default:
	}
	select {
	case obs.views <- view:
	default:
	}
}

// filterView applies the visible-slide snapshot captured at attach time.
// Slide-scoped shares keep their original scope even as slides come and go.
func filterView(view []ordering.Record, access slides.AccessContext) []ordering.Record {
	if access.AllSlidesVisible() {
		return view
	}
	filtered := make([]ordering.Record, 0, len(view))
	for _, record := range view {
		if access.SlideVisible(slides.SlideID(record.SlideID)) {
			filtered = append(filtered, record)
		}
	}
	return filtered
}

func containsSlide(view []ordering.Record, slideID string) bool {
	for _, record := range view {
		if record.SlideID == slideID {
			return true
		}
	}
	return false
}

func recordFromSlide(slide slides.Slide) ordering.Record {
	return ordering.Record{
		Schema:           ordering.RecordSchemaVersion,
		SlideID:          slide.ID,
		PresentationID:   slide.PresentationID,
		Position:         slide.Position,
		CreatedAtSeconds: slide.CreatedAtSeconds,
		UpdatedAtSeconds: slide.UpdatedAtSeconds,
	}
}

func recordsFromSlides(stored []slides.Slide) []ordering.Record {
	records := make([]ordering.Record, 0, len(stored))
	for _, slide := range stored {
		records = append(records, recordFromSlide(slide))
	}
	return records
}

// RoomID derives the deterministic live room identifier for a presentation.
func RoomID(presentationID slides.PresentationID) string {
	return fmt.Sprintf("presentation:%s", presentationID.String())
}
