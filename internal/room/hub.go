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

var (
	errMissingStore    = errors.New("room: slide store is required")
	errMissingProvider = errors.New("room: live provider is required")
	// ErrHandleClosed indicates a mutation was issued through a detached handle.
	ErrHandleClosed = errors.New("room: handle closed")
)

// HubConfig describes the dependencies of the session façade.
type HubConfig struct {
	Store    *slides.Service
	Provider Provider
	Logger   *zap.Logger
}

// Hub is the per-process session façade: it resolves access, opens or joins
// the presentation's room, and hands out live handles that gate every
// mutation behind the access context captured at attach time.
type Hub struct {
	store    *slides.Service
	provider Provider
	logger   *zap.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub validates configuration and constructs the hub.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Provider == nil {
		return nil, errMissingProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		store:    cfg.Store,
		provider: cfg.Provider,
		logger:   logger,
		rooms:    make(map[string]*Room),
	}, nil
}

// Handle is one client's attachment to a live room. Views streams the
// access-filtered, position-sorted slide sequence; mutations are checked
// against the access context captured at attach.
type Handle struct {
	hub      *Hub
	room     *Room
	observer *observer
	access   slides.AccessContext

	mu     sync.Mutex
	closed bool
}

// Attach resolves access for the requester, joins (or creates) the
// presentation's room, waits for the live session's initial sync, seeds the
// replica from durable storage when empty, and registers the client as an
// observer.
func (h *Hub) Attach(ctx context.Context, presentationID slides.PresentationID, requesterID slides.UserID, shareID slides.ShareID) (slides.AccessContext, *Handle, error) {
	access, err := h.store.ResolveAccess(ctx, requesterID, presentationID, shareID)
	if err != nil {
		return access, nil, err
	}
	if !access.CanView() {
		return access, nil, fmt.Errorf("%w: no access to presentation %s",
			slides.ErrForbidden, presentationID.String())
	}

	liveRoom, err := h.roomFor(presentationID)
	if err != nil {
		return access, nil, err
	}
	if err := liveRoom.waitSynced(ctx); err != nil {
		return access, nil, err
	}
	if err := liveRoom.seedIfEmpty(ctx); err != nil {
		return access, nil, err
	}

	obs := liveRoom.attachObserver(access)
	h.logger.Debug("observer attached",
		zap.String("room", liveRoom.id),
		zap.String("access_level", string(access.Level)))
	return access, &Handle{hub: h, room: liveRoom, observer: obs, access: access}, nil
}

func (h *Hub) roomFor(presentationID slides.PresentationID) (*Room, error) {
	roomID := RoomID(presentationID)

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.rooms[roomID]; ok {
		return existing, nil
	}

	session, err := h.provider.OpenRoom(roomID)
	if err != nil {
		return nil, err
	}
	created := newRoom(roomID, presentationID, h.store, session, h.logger)
	h.rooms[roomID] = created
	h.logger.Info("room opened", zap.String("room", roomID))
	return created, nil
}

func (h *Hub) release(r *Room, observerID int64) {
	remaining := r.detachObserver(observerID)
	if remaining > 0 {
		return
	}

	h.mu.Lock()
	if current, ok := h.rooms[r.id]; ok && current == r {
		delete(h.rooms, r.id)
	}
	h.mu.Unlock()

	r.session.Close()
	h.logger.Info("room closed", zap.String("room", r.id))
}

// Views streams filtered, position-sorted slide views to the client. The
// channel is never closed by the hub; callers stop reading after Close.
func (h *Handle) Views() <-chan []ordering.Record {
	return h.observer.views
}

// Access returns the access context captured at attach time.
func (h *Handle) Access() slides.AccessContext {
	return h.access
}

// CurrentView returns the latest filtered view without waiting on the stream.
func (h *Handle) CurrentView() []ordering.Record {
	return h.room.slidesView(h.access)
}

// CreateSlide inserts a slide at the given position on behalf of the client.
func (h *Handle) CreateSlide(ctx context.Context, atPosition int) (slides.Slide, error) {
	if err := h.checkStructural(); err != nil {
		return slides.Slide{}, err
	}
	return h.room.createSlide(ctx, atPosition)
}

// DeleteSlide removes a slide on behalf of the client.
func (h *Handle) DeleteSlide(ctx context.Context, slideID slides.SlideID) error {
	if err := h.checkStructural(); err != nil {
		return err
	}
	return h.room.deleteSlide(ctx, slideID)
}

// ReorderSlide moves a slide to a new position on behalf of the client.
func (h *Handle) ReorderSlide(ctx context.Context, slideID slides.SlideID, newPosition int) error {
	if err := h.checkStructural(); err != nil {
		return err
	}
	return h.room.reorderSlide(ctx, slideID, newPosition)
}

// Resync forces a full re-seed of the room's replica from durable storage.
func (h *Handle) Resync(ctx context.Context) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrHandleClosed
	}
	h.room.resync(ctx)
	return nil
}

// Close detaches the client; the room is torn down when its last observer
// leaves (content persists in the durable store regardless).
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.hub.release(h.room, h.observer.id)
}

func (h *Handle) checkStructural() error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrHandleClosed
	}
	if !h.access.CanMutateStructure() {
		return fmt.Errorf("%w: structural mutations require presentation-wide edit access",
			slides.ErrForbidden)
	}
	return nil
}
