package slides

import (
	"context"
	"errors"
)

// AccessLevel is the resolved tier of access to a presentation.
type AccessLevel string

const (
	// AccessOwner is the presentation owner.
	AccessOwner AccessLevel = "owner"
	// AccessEdit is write access granted through a share.
	AccessEdit AccessLevel = "edit"
	// AccessView is read-only access granted through a share.
	AccessView AccessLevel = "view"
	// AccessNone means the requester may not see the presentation at all.
	AccessNone AccessLevel = "none"
)

// AccessContext is the derived access decision for one requester: the level
// plus the set of slide ids the requester may see. A nil visible set means
// every slide is visible.
type AccessContext struct {
	Level          AccessLevel
	PresentationID PresentationID
	ShareScope     ShareScope
	visibleSlides  map[SlideID]struct{}
}

// AllSlidesVisible reports whether the context covers the whole presentation.
func (c AccessContext) AllSlidesVisible() bool {
	return c.visibleSlides == nil
}

// SlideVisible reports whether the requester may see the given slide.
func (c AccessContext) SlideVisible(id SlideID) bool {
	if c.Level == AccessNone {
		return false
	}
	if c.visibleSlides == nil {
		return true
	}
	_, ok := c.visibleSlides[id]
	return ok
}

// VisibleSlideIDs returns the restricted visible set, or nil when every slide
// is visible.
func (c AccessContext) VisibleSlideIDs() []SlideID {
	if c.visibleSlides == nil {
		return nil
	}
	ids := make([]SlideID, 0, len(c.visibleSlides))
	for id := range c.visibleSlides {
		ids = append(ids, id)
	}
	return ids
}

// CanView reports whether the requester may read the presentation.
func (c AccessContext) CanView() bool {
	return c.Level != AccessNone
}

// CanMutateStructure reports whether the requester may add, delete, or
// reorder slides. A slide-scoped grant forbids structural mutations even
// under edit permission: they would change a slide set the grantor never
// exposed.
func (c AccessContext) CanMutateStructure() bool {
	switch c.Level {
	case AccessOwner:
		return true
	case AccessEdit:
		return c.visibleSlides == nil
	default:
		return false
	}
}

// CanEditContent reports whether the requester may edit the content of the
// given slide.
func (c AccessContext) CanEditContent(id SlideID) bool {
	if c.Level != AccessOwner && c.Level != AccessEdit {
		return false
	}
	return c.SlideVisible(id)
}

// CanShare reports whether the requester may issue share grants.
func (c AccessContext) CanShare() bool {
	return c.Level == AccessOwner
}

// ResolveAccess computes the access context for a requester, evaluating owner
// identity first and share grants second. An unknown presentation yields
// ErrNotFound; an absent or expired grant yields AccessNone without error.
func (s *Service) ResolveAccess(ctx context.Context, requesterID UserID, presentationID PresentationID, shareID ShareID) (AccessContext, error) {
	presentation, _, err := s.GetPresentation(ctx, presentationID)
	if err != nil {
		return AccessContext{Level: AccessNone, PresentationID: presentationID}, err
	}

	if requesterID != "" && presentation.OwnerID == requesterID.String() {
		return AccessContext{
			Level:          AccessOwner,
			PresentationID: presentationID,
			ShareScope:     ShareScopePresentation,
		}, nil
	}

	if shareID != "" {
		share, err := s.FindShare(ctx, shareID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return AccessContext{Level: AccessNone, PresentationID: presentationID}, nil
			}
			return AccessContext{Level: AccessNone, PresentationID: presentationID}, err
		}
		if share.PresentationID != presentationID.String() {
			return AccessContext{Level: AccessNone, PresentationID: presentationID}, nil
		}

		access := AccessContext{
			Level:          AccessLevel(share.Permission),
			PresentationID: presentationID,
			ShareScope:     share.Scope,
		}
		if share.Scope == ShareScopeSlide && share.SlideID != nil {
			access.visibleSlides = map[SlideID]struct{}{SlideID(*share.SlideID): {}}
		}
		return access, nil
	}

	return AccessContext{Level: AccessNone, PresentationID: presentationID}, nil
}
