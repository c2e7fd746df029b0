package slides

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreateShare = "slides.create_share"
	opFindShare   = "slides.find_share"
	opListShares  = "slides.list_shares"
	opDeleteShare = "slides.delete_share"

	reasonMissingSlide = "missing_slide_id"
)

// ShareRequest describes the inputs for a new share grant.
type ShareRequest struct {
	PresentationID PresentationID
	Scope          ShareScope
	Permission     SharePermission
	SlideID        SlideID
	ExpiresAt      *time.Time
}

// CreateShare issues a share grant for a presentation or a single slide. A
// slide-scoped grant names exactly one slide at creation time and never grows
// to cover slides added later.
func (s *Service) CreateShare(ctx context.Context, request ShareRequest) (Share, error) {
	shareID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateShare, reasonIDGeneration, err)
		return Share{}, newServiceError(opCreateShare, reasonIDGeneration, err)
	}

	var share Share
	txnErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var presentation Presentation
		err := tx.Where("presentation_id = ?", request.PresentationID.String()).
			Take(&presentation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: presentation %s", ErrNotFound, request.PresentationID.String())
		}
		if err != nil {
			return err
		}

		share = Share{
			ShareID:          shareID,
			PresentationID:   request.PresentationID.String(),
			Scope:            request.Scope,
			Permission:       request.Permission,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if request.ExpiresAt != nil {
			expires := request.ExpiresAt.UTC().Unix()
			share.ExpiresAtSeconds = &expires
		}

		if request.Scope == ShareScopeSlide {
			if request.SlideID == "" {
				return fmt.Errorf("%w: slide share requires a slide id", ErrInvalidSlideID)
			}
			var slide Slide
			err := tx.Where("slide_id = ?", request.SlideID.String()).Take(&slide).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: slide %s", ErrNotFound, request.SlideID.String())
			}
			if err != nil {
				return err
			}
			if slide.PresentationID != request.PresentationID.String() {
				return fmt.Errorf("%w: slide %s does not belong to presentation %s",
					ErrNotFound, request.SlideID.String(), request.PresentationID.String())
			}
			slideID := slide.ID
			share.SlideID = &slideID
		}

		return tx.Create(&share).Error
	})
	if txnErr != nil {
		switch {
		case errors.Is(txnErr, ErrNotFound):
			return Share{}, newServiceError(opCreateShare, reasonNotFound, txnErr)
		case errors.Is(txnErr, ErrInvalidSlideID):
			return Share{}, newServiceError(opCreateShare, reasonMissingSlide, txnErr)
		default:
			s.logError(opCreateShare, reasonTxnFailed, txnErr,
				zap.String("presentation_id", request.PresentationID.String()))
			return Share{}, newServiceError(opCreateShare, reasonTxnFailed, txnErr)
		}
	}
	return share, nil
}

// FindShare loads a share grant by identifier. Expired grants are reported as
// absent.
func (s *Service) FindShare(ctx context.Context, shareID ShareID) (Share, error) {
	var share Share
	err := s.db.WithContext(ctx).
		Where("share_id = ?", shareID.String()).
		Take(&share).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Share{}, newServiceError(opFindShare, reasonNotFound,
			fmt.Errorf("%w: share %s", ErrNotFound, shareID.String()))
	}
	if err != nil {
		s.logError(opFindShare, reasonQueryFailed, err, zap.String("share_id", shareID.String()))
		return Share{}, newServiceError(opFindShare, reasonQueryFailed, err)
	}

	if share.ExpiresAtSeconds != nil && *share.ExpiresAtSeconds < s.clock().UTC().Unix() {
		return Share{}, newServiceError(opFindShare, reasonNotFound,
			fmt.Errorf("%w: share %s expired", ErrNotFound, shareID.String()))
	}
	return share, nil
}

// ListShares returns every share grant issued for the presentation.
func (s *Service) ListShares(ctx context.Context, presentationID PresentationID) ([]Share, error) {
	var shares []Share
	if err := s.db.WithContext(ctx).
		Where("presentation_id = ?", presentationID.String()).
		Order("created_at_s ASC").
		Find(&shares).Error; err != nil {
		s.logError(opListShares, reasonQueryFailed, err,
			zap.String("presentation_id", presentationID.String()))
		return nil, newServiceError(opListShares, reasonQueryFailed, err)
	}
	return shares, nil
}

// DeleteShare revokes a share grant.
func (s *Service) DeleteShare(ctx context.Context, shareID ShareID) error {
	result := s.db.WithContext(ctx).
		Where("share_id = ?", shareID.String()).
		Delete(&Share{})
	if result.Error != nil {
		s.logError(opDeleteShare, reasonQueryFailed, result.Error, zap.String("share_id", shareID.String()))
		return newServiceError(opDeleteShare, reasonQueryFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteShare, reasonNotFound,
			fmt.Errorf("%w: share %s", ErrNotFound, shareID.String()))
	}
	return nil
}
