package slides

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultTitle = "Untitled Presentation"

const (
	opServiceNew         = "slides.service.new"
	opCreatePresentation = "slides.create_presentation"
	opGetPresentation    = "slides.get_presentation"
	opListPresentations  = "slides.list_presentations"
	opRenamePresentation = "slides.rename_presentation"
	opDeletePresentation = "slides.delete_presentation"
	opCreateSlide        = "slides.create_slide"
	opGetSlide           = "slides.get_slide"
	opDeleteSlide        = "slides.delete_slide"
	opReorderSlide       = "slides.reorder_slide"
	opListSlides         = "slides.list_slides"

	reasonMissingDatabase   = "missing_database"
	reasonMissingIDProvider = "missing_id_provider"
	reasonNotFound          = "not_found"
	reasonIDGeneration      = "id_generation_failed"
	reasonQueryFailed       = "query_failed"
	reasonTxnConflict       = "txn_conflict"
	reasonTxnFailed         = "txn_failed"
)

const (
	maxTxnAttempts  = 3
	txnRetryBackoff = 25 * time.Millisecond
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// Namespaces is the text-CRDT collaborator contract: the store creates and
// deletes per-slide content namespaces around slide lifecycle and never
// inspects content itself.
type Namespaces interface {
	CreateNamespace(ctx context.Context, slideID SlideID) error
	DeleteNamespace(ctx context.Context, slideID SlideID) error
}

// ServiceConfig describes the dependencies of the durable slide store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Namespaces Namespaces
	Logger     *zap.Logger
}

// Service is the durable store for presentations, slides, and shares. It owns
// the authoritative slide positions; every multi-row position mutation runs in
// a single transaction using the two-phase negative-position rewrite so the
// unique (presentation_id, position) index never observes a transient
// duplicate.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	namespaces Namespaces
	logger     *zap.Logger
}

// NewService validates configuration and constructs the store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		namespaces: cfg.Namespaces,
		logger:     logger,
	}, nil
}

// CreatePresentation creates a presentation owned by ownerID with one initial
// slide at position zero.
func (s *Service) CreatePresentation(ctx context.Context, title string, ownerID UserID) (Presentation, Slide, error) {
	if title == "" {
		title = defaultTitle
	}

	presentationID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreatePresentation, reasonIDGeneration, err)
		return Presentation{}, Slide{}, newServiceError(opCreatePresentation, reasonIDGeneration, err)
	}
	slideID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreatePresentation, reasonIDGeneration, err)
		return Presentation{}, Slide{}, newServiceError(opCreatePresentation, reasonIDGeneration, err)
	}

	now := s.clock().UTC().Unix()
	presentation := Presentation{
		ID:               presentationID,
		Title:            title,
		OwnerID:          ownerID.String(),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	slide := Slide{
		ID:               slideID,
		PresentationID:   presentationID,
		Position:         0,
		ContentJSON:      "{}",
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	txnErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&presentation).Error; err != nil {
			return err
		}
		return tx.Create(&slide).Error
	})
	if txnErr != nil {
		s.logError(opCreatePresentation, reasonTxnFailed, txnErr, zap.String("presentation_id", presentationID))
		return Presentation{}, Slide{}, newServiceError(opCreatePresentation, reasonTxnFailed, txnErr)
	}

	s.createNamespace(ctx, SlideID(slideID))
	return presentation, slide, nil
}

// GetPresentation loads a presentation with its ordinal-sorted slides.
func (s *Service) GetPresentation(ctx context.Context, id PresentationID) (Presentation, []Slide, error) {
	var presentation Presentation
	err := s.db.WithContext(ctx).
		Where("presentation_id = ?", id.String()).
		Take(&presentation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Presentation{}, nil, newServiceError(opGetPresentation, reasonNotFound,
			fmt.Errorf("%w: presentation %s", ErrNotFound, id.String()))
	}
	if err != nil {
		s.logError(opGetPresentation, reasonQueryFailed, err, zap.String("presentation_id", id.String()))
		return Presentation{}, nil, newServiceError(opGetPresentation, reasonQueryFailed, err)
	}

	ordered, err := s.listOrderedSlides(ctx, id)
	if err != nil {
		return Presentation{}, nil, err
	}
	return presentation, ordered, nil
}

// ListPresentations returns the owner's presentations, most recently updated first.
func (s *Service) ListPresentations(ctx context.Context, ownerID UserID) ([]Presentation, error) {
	var presentations []Presentation
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID.String()).
		Order("updated_at_s DESC").
		Find(&presentations).Error; err != nil {
		s.logError(opListPresentations, reasonQueryFailed, err, zap.String("owner_id", ownerID.String()))
		return nil, newServiceError(opListPresentations, reasonQueryFailed, err)
	}
	return presentations, nil
}

// RenamePresentation updates the presentation title.
func (s *Service) RenamePresentation(ctx context.Context, id PresentationID, title string) (Presentation, error) {
	if title == "" {
		title = defaultTitle
	}

	var presentation Presentation
	txnErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("presentation_id = ?", id.String()).
			Take(&presentation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: presentation %s", ErrNotFound, id.String())
		}
		if err != nil {
			return err
		}
		presentation.Title = title
		presentation.UpdatedAtSeconds = s.clock().UTC().Unix()
		return tx.Save(&presentation).Error
	})
	if txnErr != nil {
		if errors.Is(txnErr, ErrNotFound) {
			return Presentation{}, newServiceError(opRenamePresentation, reasonNotFound, txnErr)
		}
		s.logError(opRenamePresentation, reasonTxnFailed, txnErr, zap.String("presentation_id", id.String()))
		return Presentation{}, newServiceError(opRenamePresentation, reasonTxnFailed, txnErr)
	}
	return presentation, nil
}

// DeletePresentation removes the presentation, its slides, and its shares.
// Content namespaces of the removed slides are deleted after commit.
func (s *Service) DeletePresentation(ctx context.Context, id PresentationID) error {
	var removedSlideIDs []string
	txnErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var presentation Presentation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("presentation_id = ?", id.String()).
			Take(&presentation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: presentation %s", ErrNotFound, id.String())
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&Slide{}).
			Where("presentation_id = ?", id.String()).
			Pluck("slide_id", &removedSlideIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("presentation_id = ?", id.String()).Delete(&Slide{}).Error; err != nil {
			return err
		}
		if err := tx.Where("presentation_id = ?", id.String()).Delete(&Share{}).Error; err != nil {
			return err
		}
		return tx.Where("presentation_id = ?", id.String()).Delete(&Presentation{}).Error
	})
	if txnErr != nil {
		if errors.Is(txnErr, ErrNotFound) {
			return newServiceError(opDeletePresentation, reasonNotFound, txnErr)
		}
		s.logError(opDeletePresentation, reasonTxnFailed, txnErr, zap.String("presentation_id", id.String()))
		return newServiceError(opDeletePresentation, reasonTxnFailed, txnErr)
	}

	for _, slideID := range removedSlideIDs {
		s.deleteNamespace(ctx, SlideID(slideID))
	}
	return nil
}

// CreateSlide inserts a new slide at the requested position, shifting every
// slide at or after that position up by one inside a single transaction.
func (s *Service) CreateSlide(ctx context.Context, presentationID PresentationID, atPosition int) (Slide, error) {
	slideID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateSlide, reasonIDGeneration, err)
		return Slide{}, newServiceError(opCreateSlide, reasonIDGeneration, err)
	}

	var created Slide
	txnErr := s.runPositionTxn(ctx, opCreateSlide, func(tx *gorm.DB) error {
		var presentation Presentation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("presentation_id = ?", presentationID.String()).
			Take(&presentation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: presentation %s", ErrNotFound, presentationID.String())
		}
		if err != nil {
			return err
		}

		var slideCount int64
		if err := tx.Model(&Slide{}).
			Where("presentation_id = ?", presentationID.String()).
			Count(&slideCount).Error; err != nil {
			return err
		}

		position := clampPosition(atPosition, 0, int(slideCount))

		// Two-phase shift: park the tail at unique negative positions, then
		// land every parked row one past its old position.
		if err := tx.Model(&Slide{}).
			Where("presentation_id = ? AND position >= ?", presentationID.String(), position).
			Update("position", gorm.Expr("-(position + 1)")).Error; err != nil {
			return err
		}
		if err := tx.Model(&Slide{}).
			Where("presentation_id = ? AND position < 0", presentationID.String()).
			Update("position", gorm.Expr("-position")).Error; err != nil {
			return err
		}

		now := s.clock().UTC().Unix()
		created = Slide{
			ID:               slideID,
			PresentationID:   presentationID.String(),
			Position:         position,
			ContentJSON:      "{}",
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		return s.touchPresentation(tx, presentationID, now)
	})
	if txnErr != nil {
		return Slide{}, txnErr
	}

	s.createNamespace(ctx, SlideID(slideID))
	return created, nil
}

// GetSlide loads a slide by identifier.
func (s *Service) GetSlide(ctx context.Context, id SlideID) (Slide, error) {
	var slide Slide
	err := s.db.WithContext(ctx).
		Where("slide_id = ?", id.String()).
		Take(&slide).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Slide{}, newServiceError(opGetSlide, reasonNotFound,
			fmt.Errorf("%w: slide %s", ErrNotFound, id.String()))
	}
	if err != nil {
		s.logError(opGetSlide, reasonQueryFailed, err, zap.String("slide_id", id.String()))
		return Slide{}, newServiceError(opGetSlide, reasonQueryFailed, err)
	}
	return slide, nil
}

// DeleteSlide removes the slide and closes the position gap it leaves behind,
// all inside a single transaction.
func (s *Service) DeleteSlide(ctx context.Context, id SlideID) (Slide, error) {
	var removed Slide
	txnErr := s.runPositionTxn(ctx, opDeleteSlide, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("slide_id = ?", id.String()).
			Take(&removed).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: slide %s", ErrNotFound, id.String())
		}
		if err != nil {
			return err
		}

		if err := tx.Where("slide_id = ?", id.String()).Delete(&Slide{}).Error; err != nil {
			return err
		}

		// Two-phase shift down for every slide past the removed position.
		if err := tx.Model(&Slide{}).
			Where("presentation_id = ? AND position > ?", removed.PresentationID, removed.Position).
			Update("position", gorm.Expr("-(position + 1)")).Error; err != nil {
			return err
		}
		if err := tx.Model(&Slide{}).
			Where("presentation_id = ? AND position < 0", removed.PresentationID).
			Update("position", gorm.Expr("-position - 2")).Error; err != nil {
			return err
		}

		return s.touchPresentation(tx, PresentationID(removed.PresentationID), s.clock().UTC().Unix())
	})
	if txnErr != nil {
		return Slide{}, txnErr
	}

	s.deleteNamespace(ctx, id)
	return removed, nil
}

// ReorderSlide moves the slide to newPosition and recomputes the positions of
// every affected slide in a single transaction. The whole permutation is
// written twice: first to temporary negative positions, then to the final
// dense sequence, so the unique position index holds throughout.
func (s *Service) ReorderSlide(ctx context.Context, id SlideID, newPosition int) (Slide, error) {
	var moved Slide
	txnErr := s.runPositionTxn(ctx, opReorderSlide, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("slide_id = ?", id.String()).
			Take(&moved).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: slide %s", ErrNotFound, id.String())
		}
		if err != nil {
			return err
		}

		var all []Slide
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("presentation_id = ?", moved.PresentationID).
			Order("position ASC").
			Find(&all).Error; err != nil {
			return err
		}

		oldPosition := moved.Position
		target := clampPosition(newPosition, 0, len(all)-1)
		if target == oldPosition {
			return nil
		}

		now := s.clock().UTC().Unix()
		finals := make(map[string]int, len(all))
		for _, slide := range all {
			switch {
			case slide.ID == id.String():
				finals[slide.ID] = target
			case oldPosition < target && slide.Position > oldPosition && slide.Position <= target:
				finals[slide.ID] = slide.Position - 1
			case oldPosition > target && slide.Position < oldPosition && slide.Position >= target:
				finals[slide.ID] = slide.Position + 1
			default:
				finals[slide.ID] = slide.Position
			}
		}

		// Phase one: park every slide at a unique negative position.
		for index, slide := range all {
			if err := tx.Model(&Slide{}).
				Where("slide_id = ?", slide.ID).
				Update("position", -(index + 1)).Error; err != nil {
				return err
			}
		}
		// Phase two: land every slide at its final position.
		for _, slide := range all {
			updates := map[string]interface{}{"position": finals[slide.ID]}
			if finals[slide.ID] != slide.Position {
				updates["updated_at_s"] = now
			}
			if err := tx.Model(&Slide{}).
				Where("slide_id = ?", slide.ID).
				Updates(updates).Error; err != nil {
				return err
			}
		}

		moved.Position = target
		moved.UpdatedAtSeconds = now
		return s.touchPresentation(tx, PresentationID(moved.PresentationID), now)
	})
	if txnErr != nil {
		return Slide{}, txnErr
	}
	return moved, nil
}

// ListSlides returns the presentation's slides sorted by position.
func (s *Service) ListSlides(ctx context.Context, presentationID PresentationID) ([]Slide, error) {
	var presentationCount int64
	if err := s.db.WithContext(ctx).Model(&Presentation{}).
		Where("presentation_id = ?", presentationID.String()).
		Count(&presentationCount).Error; err != nil {
		s.logError(opListSlides, reasonQueryFailed, err, zap.String("presentation_id", presentationID.String()))
		return nil, newServiceError(opListSlides, reasonQueryFailed, err)
	}
	if presentationCount == 0 {
		return nil, newServiceError(opListSlides, reasonNotFound,
			fmt.Errorf("%w: presentation %s", ErrNotFound, presentationID.String()))
	}
	return s.listOrderedSlides(ctx, presentationID)
}

func (s *Service) listOrderedSlides(ctx context.Context, presentationID PresentationID) ([]Slide, error) {
	var ordered []Slide
	if err := s.db.WithContext(ctx).
		Where("presentation_id = ?", presentationID.String()).
		Order("position ASC").
		Find(&ordered).Error; err != nil {
		s.logError(opListSlides, reasonQueryFailed, err, zap.String("presentation_id", presentationID.String()))
		return nil, newServiceError(opListSlides, reasonQueryFailed, err)
	}
	return ordered, nil
}

// runPositionTxn executes a position-mutating transaction with bounded retries
// on sqlite contention before surfacing ErrConflict.
func (s *Service) runPositionTxn(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		err := s.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return newServiceError(operation, reasonNotFound, err)
		}
		if !isRetryableTxnError(err) {
			s.logError(operation, reasonTxnFailed, err)
			return newServiceError(operation, reasonTxnFailed, err)
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return newServiceError(operation, reasonTxnFailed, ctx.Err())
		case <-time.After(txnRetryBackoff << attempt):
		}
	}
	s.logError(operation, reasonTxnConflict, lastErr)
	return newServiceError(operation, reasonTxnConflict, fmt.Errorf("%w: %v", ErrConflict, lastErr))
}

func (s *Service) touchPresentation(tx *gorm.DB, id PresentationID, updatedAt int64) error {
	return tx.Model(&Presentation{}).
		Where("presentation_id = ?", id.String()).
		Update("updated_at_s", updatedAt).Error
}

func (s *Service) createNamespace(ctx context.Context, slideID SlideID) {
	if s.namespaces == nil {
		return
	}
	if err := s.namespaces.CreateNamespace(ctx, slideID); err != nil {
		s.logger.Warn("content namespace creation failed",
			zap.String("slide_id", slideID.String()), zap.Error(err))
	}
}

func (s *Service) deleteNamespace(ctx context.Context, slideID SlideID) {
	if s.namespaces == nil {
		return
	}
	if err := s.namespaces.DeleteNamespace(ctx, slideID); err != nil {
		s.logger.Warn("content namespace deletion failed",
			zap.String("slide_id", slideID.String()), zap.Error(err))
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("slides service error", attrs...)
}

func clampPosition(value, low, high int) int {
	if high < low {
		high = low
	}
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
