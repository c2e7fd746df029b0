package slides

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mustShare(testContext *testing.T, service *Service, request ShareRequest) Share {
	testContext.Helper()
	share, err := service.CreateShare(context.Background(), request)
	if err != nil {
		testContext.Fatalf("create share failed: %v", err)
	}
	return share
}

func mustResolve(testContext *testing.T, service *Service, requester, presentationID, shareID string) AccessContext {
	testContext.Helper()
	access, err := service.ResolveAccess(
		context.Background(),
		UserID(requester),
		mustPresentationID(testContext, presentationID),
		ShareID(shareID),
	)
	if err != nil {
		testContext.Fatalf("resolve access failed: %v", err)
	}
	return access
}

func TestOwnerHasFullAccess(testContext *testing.T) {
	service := newTestService(testContext)
	presentation, slide := mustCreatePresentation(testContext, service, "owner-1")

	access := mustResolve(testContext, service, "owner-1", presentation.ID, "")
	if access.Level != AccessOwner {
		testContext.Fatalf("expected owner access, got %s", access.Level)
	}
	if !access.CanMutateStructure() || !access.CanShare() {
		testContext.Fatalf("expected owner to mutate and share")
	}
	if !access.CanEditContent(mustSlideID(testContext, slide.ID)) {
		testContext.Fatalf("expected owner to edit content")
	}
	if !access.AllSlidesVisible() {
		testContext.Fatalf("expected owner to see every slide")
	}
}

func TestPresentationEditShareAllowsStructure(testContext *testing.T) {
	service := newTestService(testContext)
	presentation, slide := mustCreatePresentation(testContext, service, "owner-1")
	share := mustShare(testContext, service, ShareRequest{
		PresentationID: mustPresentationID(testContext, presentation.ID),
		Scope:          ShareScopePresentation,
		Permission:     SharePermissionEdit,
	})

	access := mustResolve(testContext, service, "visitor-1", presentation.ID, share.ShareID)
	if access.Level != AccessEdit {
		testContext.Fatalf("expected edit access, got %s", access.Level)
	}
	if !access.CanMutateStructure() {
		testContext.Fatalf("expected presentation-wide edit share to mutate structure")
	}
	if !access.CanEditContent(mustSlideID(testContext, slide.ID)) {
		testContext.Fatalf("expected edit share to edit content")
	}
	if access.CanShare() {
		testContext.Fatalf("expected sharing to stay owner-only")
	}
}

func TestSlideEditShareForbidsStructure(testContext *testing.T) {
	service := newTestService(testContext)
	presentation, visible := mustCreatePresentation(testContext, service, "owner-1")
	hidden := mustCreateSlide(testContext, service, presentation.ID, 1)
	share := mustShare(testContext, service, ShareRequest{
		PresentationID: mustPresentationID(testContext, presentation.ID),
		Scope:          ShareScopeSlide,
		Permission:     SharePermissionEdit,
		SlideID:        mustSlideID(testContext, visible.ID),
	})

	access := mustResolve(testContext, service, "visitor-1", presentation.ID, share.ShareID)
	if access.Level != AccessEdit {
		testContext.Fatalf("expected edit access, got %s", access.Level)
	}
	if access.CanMutateStructure() {
		testContext.Fatalf("slide-scoped grant must not allow structural mutations")
	}
	if !access.CanEditContent(mustSlideID(testContext, visible.ID)) {
		testContext.Fatalf("expected content edit on the granted slide")
	}
	if access.CanEditContent(mustSlideID(testContext, hidden.ID)) {
		testContext.Fatalf("expected no content edit outside the granted slide")
	}
	if access.SlideVisible(mustSlideID(testContext, hidden.ID)) {
		testContext.Fatalf("expected the other slide to stay hidden")
	}
}

func TestSlideShareVisibilityStableAfterAdds(testContext *testing.T) {
	service := newTestService(testContext)
	presentation, granted := mustCreatePresentation(testContext, service, "owner-1")
	for i := 1; i < 5; i++ {
		mustCreateSlide(testContext, service, presentation.ID, i)
	}
	share := mustShare(testContext, service, ShareRequest{
		PresentationID: mustPresentationID(testContext, presentation.ID),
		Scope:          ShareScopeSlide,
		Permission:     SharePermissionView,
		SlideID:        mustSlideID(testContext, granted.ID),
	})

	// Slides added after grant creation must not grow the visible set.
	mustCreateSlide(testContext, service, presentation.ID, 5)
	mustCreateSlide(testContext, service, presentation.ID, 6)

	access := mustResolve(testContext, service, "", presentation.ID, share.ShareID)
	visible := access.VisibleSlideIDs()
	if len(visible) != 1 || visible[0].String() != granted.ID {
		testContext.Fatalf("expected exactly the granted slide to be visible, got %v", visible)
	}
}

func TestViewShareForbidsAllMutations(testContext *testing.T) {
	service := newTestService(testContext)
	presentation, slide := mustCreatePresentation(testContext, service, "owner-1")
	share := mustShare(testContext, service, ShareRequest{
		PresentationID: mustPresentationID(testContext, presentation.ID),
		Scope:          ShareScopePresentation,
		Permission:     SharePermissionView,
	})

	access := mustResolve(testContext, service, "visitor-1", presentation.ID, share.ShareID)
	if access.Level != AccessView {
		testContext.Fatalf("expected view access, got %s", access.Level)
	}
	if access.CanMutateStructure() || access.CanEditContent(mustSlideID(testContext, slide.ID)) || access.CanShare() {
		testContext.Fatalf("expected view share to forbid every mutation")
	}
	if !access.CanView() {
		testContext.Fatalf("expected view share to read")
	}
}

func TestExpiredShareResolvesToNoAccess(testContext *testing.T) {
	service := newTestService(testContext)
	presentation, _ := mustCreatePresentation(testContext, service, "owner-1")
	expired := time.Unix(1600000000, 0).UTC()
	share := mustShare(testContext, service, ShareRequest{
		PresentationID: mustPresentationID(testContext, presentation.ID),
		Scope:          ShareScopePresentation,
		Permission:     SharePermissionEdit,
		ExpiresAt:      &expired,
	})

	if _, err := service.FindShare(context.Background(), ShareID(share.ShareID)); !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected expired share lookup to report not found, got %v", err)
	}

	access := mustResolve(testContext, service, "visitor-1", presentation.ID, share.ShareID)
	if access.Level != AccessNone || access.CanView() {
		testContext.Fatalf("expected no access through an expired share, got %s", access.Level)
	}
}

func TestShareForWrongPresentationGrantsNothing(testContext *testing.T) {
	service := newTestService(testContext)
	first, _ := mustCreatePresentation(testContext, service, "owner-1")
	second, _ := mustCreatePresentation(testContext, service, "owner-2")
	share := mustShare(testContext, service, ShareRequest{
		PresentationID: mustPresentationID(testContext, first.ID),
		Scope:          ShareScopePresentation,
		Permission:     SharePermissionEdit,
	})

	access := mustResolve(testContext, service, "visitor-1", second.ID, share.ShareID)
	if access.Level != AccessNone {
		testContext.Fatalf("expected share to be useless on another presentation, got %s", access.Level)
	}
}

func TestUnknownPresentationResolutionFails(testContext *testing.T) {
	service := newTestService(testContext)
	_, err := service.ResolveAccess(
		context.Background(),
		UserID("visitor-1"),
		mustPresentationID(testContext, "missing"),
		"",
	)
	if !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected not found, got %v", err)
	}
}

func TestSlideShareRequiresSlideInPresentation(testContext *testing.T) {
	service := newTestService(testContext)
	first, _ := mustCreatePresentation(testContext, service, "owner-1")
	_, foreign := mustCreatePresentation(testContext, service, "owner-2")

	_, err := service.CreateShare(context.Background(), ShareRequest{
		PresentationID: mustPresentationID(testContext, first.ID),
		Scope:          ShareScopeSlide,
		Permission:     SharePermissionView,
		SlideID:        mustSlideID(testContext, foreign.ID),
	})
	if !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected foreign slide to be rejected, got %v", err)
	}
}

func TestDeleteShareRevokesAccess(testContext *testing.T) {
	service := newTestService(testContext)
	presentation, _ := mustCreatePresentation(testContext, service, "owner-1")
	share := mustShare(testContext, service, ShareRequest{
		PresentationID: mustPresentationID(testContext, presentation.ID),
		Scope:          ShareScopePresentation,
		Permission:     SharePermissionView,
	})

	if err := service.DeleteShare(context.Background(), ShareID(share.ShareID)); err != nil {
		testContext.Fatalf("delete share failed: %v", err)
	}
	access := mustResolve(testContext, service, "visitor-1", presentation.ID, share.ShareID)
	if access.Level != AccessNone {
		testContext.Fatalf("expected revoked share to grant nothing, got %s", access.Level)
	}
}
