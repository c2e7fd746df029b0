package room

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/odysseylabs/odyssey/backend/internal/ordering"
	"github.com/odysseylabs/odyssey/backend/internal/slides"
)

type sequentialIDProvider struct {
	next int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

func newTestStore(testContext *testing.T) *slides.Service {
	testContext.Helper()
	dsn := fmt.Sprintf("file:odyssey_room_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&slides.Presentation{}, &slides.Slide{}, &slides.Share{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	store, err := slides.NewService(slides.ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
		IDProvider: &sequentialIDProvider{},
	})
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	return store
}

func newTestHub(testContext *testing.T) (*Hub, *slides.Service, *LocalProvider) {
	testContext.Helper()
	store := newTestStore(testContext)
	provider := NewLocalProvider()
	hub, err := NewHub(HubConfig{Store: store, Provider: provider})
	if err != nil {
		testContext.Fatalf("failed to build hub: %v", err)
	}
	return hub, store, provider
}

func mustAttach(testContext *testing.T, hub *Hub, presentationID, requester, shareID string) *Handle {
	testContext.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, handle, err := hub.Attach(ctx, slides.PresentationID(presentationID), slides.UserID(requester), slides.ShareID(shareID))
	if err != nil {
		testContext.Fatalf("attach failed: %v", err)
	}
	testContext.Cleanup(handle.Close)
	return handle
}

func viewSlideIDs(view []ordering.Record) []string {
	ids := make([]string, 0, len(view))
	for _, record := range view {
		ids = append(ids, record.SlideID)
	}
	return ids
}

func sameOrder(view []ordering.Record, want []string) bool {
	if len(view) != len(want) {
		return false
	}
	for i, record := range view {
		if record.SlideID != want[i] || record.Position != i {
			return false
		}
	}
	return true
}

// waitForView drains the handle's view stream until the expected order shows
// up or the deadline passes.
func waitForView(testContext *testing.T, handle *Handle, want ...string) {
	testContext.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if sameOrder(handle.CurrentView(), want) {
			return
		}
		select {
		case view := <-handle.Views():
			if sameOrder(view, want) {
				return
			}
		case <-deadline:
			testContext.Fatalf("timed out waiting for view %v, last view %v",
				want, viewSlideIDs(handle.CurrentView()))
		}
	}
}

func TestAttachSeedsFromDurableStore(testContext *testing.T) {
	hub, store, _ := newTestHub(testContext)
	presentation, first := mustCreatePresentation(testContext, store)
	second := mustCreateSlide(testContext, store, presentation.ID, 1)

	handle := mustAttach(testContext, hub, presentation.ID, "owner-1", "")
	waitForView(testContext, handle, first.ID, second.ID)
}

func TestCreateSlideUpdatesEveryObserver(testContext *testing.T) {
	hub, store, _ := newTestHub(testContext)
	presentation, first := mustCreatePresentation(testContext, store)
	share := mustViewShare(testContext, store, presentation.ID)

	owner := mustAttach(testContext, hub, presentation.ID, "owner-1", "")
	visitor := mustAttach(testContext, hub, presentation.ID, "", share)

	created, err := owner.CreateSlide(context.Background(), 0)
	if err != nil {
		testContext.Fatalf("create slide failed: %v", err)
	}

	waitForView(testContext, owner, created.ID, first.ID)
	waitForView(testContext, visitor, created.ID, first.ID)
}

func TestDeleteSlidePropagates(testContext *testing.T) {
	hub, store, _ := newTestHub(testContext)
	presentation, first := mustCreatePresentation(testContext, store)
	second := mustCreateSlide(testContext, store, presentation.ID, 1)

	handle := mustAttach(testContext, hub, presentation.ID, "owner-1", "")
	waitForView(testContext, handle, first.ID, second.ID)

	if err := handle.DeleteSlide(context.Background(), slides.SlideID(first.ID)); err != nil {
		testContext.Fatalf("delete slide failed: %v", err)
	}
	waitForView(testContext, handle, second.ID)
}

func TestReorderSlidePropagates(testContext *testing.T) {
	hub, store, _ := newTestHub(testContext)
	presentation, first := mustCreatePresentation(testContext, store)
	second := mustCreateSlide(testContext, store, presentation.ID, 1)
	third := mustCreateSlide(testContext, store, presentation.ID, 2)

	handle := mustAttach(testContext, hub, presentation.ID, "owner-1", "")
	if err := handle.ReorderSlide(context.Background(), slides.SlideID(third.ID), 0); err != nil {
		testContext.Fatalf("reorder slide failed: %v", err)
	}
	waitForView(testContext, handle, third.ID, first.ID, second.ID)
}

func TestSlideScopedObserverSeesOnlyGrantedSlide(testContext *testing.T) {
	hub, store, _ := newTestHub(testContext)
	presentation, granted := mustCreatePresentation(testContext, store)
	mustCreateSlide(testContext, store, presentation.ID, 1)
	share := mustSlideViewShare(testContext, store, presentation.ID, granted.ID)

	owner := mustAttach(testContext, hub, presentation.ID, "owner-1", "")
	visitor := mustAttach(testContext, hub, presentation.ID, "", share)
	waitForView(testContext, visitor, granted.ID)

	// New slides never widen a slide-scoped grant.
	if _, err := owner.CreateSlide(context.Background(), 0); err != nil {
		testContext.Fatalf("create slide failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	waitForView(testContext, visitor, granted.ID)
	if len(owner.CurrentView()) != 3 {
		testContext.Fatalf("expected owner to see all three slides, got %d", len(owner.CurrentView()))
	}
}

func TestStructuralMutationForbiddenThroughScopedShares(testContext *testing.T) {
	hub, store, _ := newTestHub(testContext)
	presentation, granted := mustCreatePresentation(testContext, store)
	slideEdit := mustSlideEditShare(testContext, store, presentation.ID, granted.ID)
	viewOnly := mustViewShare(testContext, store, presentation.ID)

	editor := mustAttach(testContext, hub, presentation.ID, "", slideEdit)
	viewer := mustAttach(testContext, hub, presentation.ID, "", viewOnly)

	if _, err := editor.CreateSlide(context.Background(), 0); !errors.Is(err, slides.ErrForbidden) {
		testContext.Fatalf("expected forbidden for slide-scoped edit share, got %v", err)
	}
	if err := editor.DeleteSlide(context.Background(), slides.SlideID(granted.ID)); !errors.Is(err, slides.ErrForbidden) {
		testContext.Fatalf("expected forbidden for slide-scoped edit share, got %v", err)
	}
	if err := viewer.ReorderSlide(context.Background(), slides.SlideID(granted.ID), 0); !errors.Is(err, slides.ErrForbidden) {
		testContext.Fatalf("expected forbidden for view share, got %v", err)
	}
}

func TestPresentationEditShareMayMutate(testContext *testing.T) {
	hub, store, _ := newTestHub(testContext)
	presentation, first := mustCreatePresentation(testContext, store)
	share := mustEditShare(testContext, store, presentation.ID)

	editor := mustAttach(testContext, hub, presentation.ID, "", share)
	created, err := editor.CreateSlide(context.Background(), 1)
	if err != nil {
		testContext.Fatalf("expected presentation-wide edit share to create slides: %v", err)
	}
	waitForView(testContext, editor, first.ID, created.ID)
}

func TestAttachWithoutAccessFails(testContext *testing.T) {
	hub, store, _ := newTestHub(testContext)
	presentation, _ := mustCreatePresentation(testContext, store)

	_, _, err := hub.Attach(context.Background(), slides.PresentationID(presentation.ID), "stranger", "")
	if !errors.Is(err, slides.ErrForbidden) {
		testContext.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAttachUnknownPresentationFails(testContext *testing.T) {
	hub, _, _ := newTestHub(testContext)
	_, _, err := hub.Attach(context.Background(), "missing", "owner-1", "")
	if !errors.Is(err, slides.ErrNotFound) {
		testContext.Fatalf("expected not found, got %v", err)
	}
}

func TestRemoteReorderOfUnknownSlideForcesReseed(testContext *testing.T) {
	hub, store, provider := newTestHub(testContext)
	presentation, first := mustCreatePresentation(testContext, store)
	second := mustCreateSlide(testContext, store, presentation.ID, 1)

	handle := mustAttach(testContext, hub, presentation.ID, "owner-1", "")
	waitForView(testContext, handle, first.ID, second.ID)

	// A peer replica announces a reorder for a slide this room never saw.
	peer, err := provider.OpenRoom(RoomID(slides.PresentationID(presentation.ID)))
	if err != nil {
		testContext.Fatalf("failed to open peer session: %v", err)
	}
	defer peer.Close()
	peer.Broadcast(ordering.Op{
		Schema:    ordering.RecordSchemaVersion,
		Kind:      ordering.OpReorder,
		OpID:      "remote-op-unknown",
		Timestamp: 99,
		SlideID:   "slide-from-nowhere",
		Position:  0,
	})

	// The re-seed lands the room back on durable truth.
	waitForView(testContext, handle, first.ID, second.ID)
	if handle.CurrentView()[0].Position != 0 {
		testContext.Fatalf("expected dense positions after re-seed")
	}
}

func TestClosedHandleRejectsMutations(testContext *testing.T) {
	hub, store, _ := newTestHub(testContext)
	presentation, first := mustCreatePresentation(testContext, store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, handle, err := hub.Attach(ctx, slides.PresentationID(presentation.ID), "owner-1", "")
	if err != nil {
		testContext.Fatalf("attach failed: %v", err)
	}
	handle.Close()

	if _, err := handle.CreateSlide(context.Background(), 0); !errors.Is(err, ErrHandleClosed) {
		testContext.Fatalf("expected handle closed, got %v", err)
	}
	if err := handle.DeleteSlide(context.Background(), slides.SlideID(first.ID)); !errors.Is(err, ErrHandleClosed) {
		testContext.Fatalf("expected handle closed, got %v", err)
	}
}

func TestStorageFailureLeavesReplicaOnDurableTruth(testContext *testing.T) {
	hub, store, _ := newTestHub(testContext)
	presentation, first := mustCreatePresentation(testContext, store)

	handle := mustAttach(testContext, hub, presentation.ID, "owner-1", "")
	waitForView(testContext, handle, first.ID)

	// Deleting a slide that does not exist fails in storage before any
	// replica mutation; the view must be unchanged.
	if err := handle.DeleteSlide(context.Background(), "missing-slide"); !errors.Is(err, slides.ErrNotFound) {
		testContext.Fatalf("expected not found, got %v", err)
	}
	waitForView(testContext, handle, first.ID)
}

func mustCreatePresentation(testContext *testing.T, store *slides.Service) (slides.Presentation, slides.Slide) {
	testContext.Helper()
	presentation, slide, err := store.CreatePresentation(context.Background(), "", "owner-1")
	if err != nil {
		testContext.Fatalf("create presentation failed: %v", err)
	}
	return presentation, slide
}

func mustCreateSlide(testContext *testing.T, store *slides.Service, presentationID string, position int) slides.Slide {
	testContext.Helper()
	slide, err := store.CreateSlide(context.Background(), slides.PresentationID(presentationID), position)
	if err != nil {
		testContext.Fatalf("create slide failed: %v", err)
	}
	return slide
}

func mustViewShare(testContext *testing.T, store *slides.Service, presentationID string) string {
	testContext.Helper()
	share, err := store.CreateShare(context.Background(), slides.ShareRequest{
		PresentationID: slides.PresentationID(presentationID),
		Scope:          slides.ShareScopePresentation,
		Permission:     slides.SharePermissionView,
	})
	if err != nil {
		testContext.Fatalf("create share failed: %v", err)
	}
	return share.ShareID
}

func mustEditShare(testContext *testing.T, store *slides.Service, presentationID string) string {
	testContext.Helper()
	share, err := store.CreateShare(context.Background(), slides.ShareRequest{
		PresentationID: slides.PresentationID(presentationID),
		Scope:          slides.ShareScopePresentation,
		Permission:     slides.SharePermissionEdit,
	})
	if err != nil {
		testContext.Fatalf("create share failed: %v", err)
	}
	return share.ShareID
}

func mustSlideViewShare(testContext *testing.T, store *slides.Service, presentationID, slideID string) string {
	testContext.Helper()
	share, err := store.CreateShare(context.Background(), slides.ShareRequest{
		PresentationID: slides.PresentationID(presentationID),
		Scope:          slides.ShareScopeSlide,
		Permission:     slides.SharePermissionView,
		SlideID:        slides.SlideID(slideID),
	})
	if err != nil {
		testContext.Fatalf("create share failed: %v", err)
	}
	return share.ShareID
}

func mustSlideEditShare(testContext *testing.T, store *slides.Service, presentationID, slideID string) string {
	testContext.Helper()
	share, err := store.CreateShare(context.Background(), slides.ShareRequest{
		PresentationID: slides.PresentationID(presentationID),
		Scope:          slides.ShareScopeSlide,
		Permission:     slides.SharePermissionEdit,
		SlideID:        slides.SlideID(slideID),
	})
	if err != nil {
		testContext.Fatalf("create share failed: %v", err)
	}
	return share.ShareID
}
