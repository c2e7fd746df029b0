package content

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/odysseylabs/odyssey/backend/internal/slides"
)

const (
	opServiceNew      = "content.service.new"
	opApplyUpdates    = "content.apply_updates"
	opListUpdates     = "content.list_updates"
	opGetSnapshot     = "content.get_snapshot"
	opDeleteNamespace = "content.delete_namespace"

	reasonMissingDatabase   = "missing_database"
	reasonHashFailed        = "update_hash_failed"
	reasonInsertFailed      = "update_insert_failed"
	reasonLookupFailed      = "update_lookup_failed"
	reasonSnapshotFailed    = "snapshot_upsert_failed"
	reasonQueryFailed       = "query_failed"
	reasonNamespacePurge    = "namespace_purge_failed"
	reasonInvalidUpdateRow  = "update_row_invalid"
	reasonInvalidUpdateID   = "update_id_invalid"
	reasonInvalidUpdateData = "update_payload_invalid"
)

var errMissingDatabase = errors.New("database handle is required")

// UpdateEnvelope is one incoming text-CRDT update with the client's current
// snapshot for compaction.
type UpdateEnvelope struct {
	UpdateB64        UpdateBase64
	SnapshotB64      SnapshotBase64
	SnapshotUpdateID UpdateID
}

// UpdateOutcome reports the stored identifier for one applied update.
type UpdateOutcome struct {
	UpdateID  UpdateID
	Duplicate bool
}

// UpdateRecord is a stored update returned for replay.
type UpdateRecord struct {
	UpdateID  UpdateID
	UpdateB64 UpdateBase64
}

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the content store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the durable side of the text-CRDT collaborator: an append-only
// update log plus a compacted snapshot per slide namespace. Payloads are
// opaque; this service never merges or inspects content.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates configuration and constructs the content store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// CreateNamespace prepares a slide's content namespace. Namespaces are
// materialized lazily on first update, so creation only validates the id.
func (s *Service) CreateNamespace(_ context.Context, slideID slides.SlideID) error {
	_, err := slides.NewSlideID(slideID.String())
	return err
}

// DeleteNamespace purges every stored update and the snapshot for a slide.
func (s *Service) DeleteNamespace(ctx context.Context, slideID slides.SlideID) error {
	txnErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("slide_id = ?", slideID.String()).Delete(&Update{}).Error; err != nil {
			return err
		}
		return tx.Where("slide_id = ?", slideID.String()).Delete(&Snapshot{}).Error
	})
	if txnErr != nil {
		s.logError(opDeleteNamespace, reasonNamespacePurge, txnErr, zap.String("slide_id", slideID.String()))
		return newServiceError(opDeleteNamespace, reasonNamespacePurge, txnErr)
	}
	return nil
}

// ApplyUpdates persists a batch of opaque updates for one slide, deduplicating
// by payload hash, and advances the compacted snapshot monotonically.
func (s *Service) ApplyUpdates(ctx context.Context, slideID slides.SlideID, envelopes []UpdateEnvelope) ([]UpdateOutcome, error) {
	outcomes := make([]UpdateOutcome, 0, len(envelopes))
	if len(envelopes) == 0 {
		return outcomes, nil
	}

	txnErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, envelope := range envelopes {
			updateHash, hashErr := hashPayload(envelope.UpdateB64.String())
			if hashErr != nil {
				s.logError(opApplyUpdates, reasonHashFailed, hashErr, zap.String("slide_id", slideID.String()))
				return newServiceError(opApplyUpdates, reasonHashFailed, hashErr)
			}

			model := Update{
				SlideID:          slideID.String(),
				UpdateB64:        envelope.UpdateB64.String(),
				UpdateHash:       updateHash,
				AppliedAtSeconds: s.clock().UTC().Unix(),
			}
			createResult := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
			if createResult.Error != nil {
				s.logError(opApplyUpdates, reasonInsertFailed, createResult.Error, zap.String("slide_id", slideID.String()))
				return newServiceError(opApplyUpdates, reasonInsertFailed, createResult.Error)
			}

			duplicate := createResult.RowsAffected == 0
			updateID := model.UpdateID
			if duplicate {
				var existing Update
				err := tx.Select("update_id").
					Where("slide_id = ? AND update_hash = ?", slideID.String(), updateHash).
					Take(&existing).Error
				if err != nil {
					s.logError(opApplyUpdates, reasonLookupFailed, err, zap.String("slide_id", slideID.String()))
					return newServiceError(opApplyUpdates, reasonLookupFailed, err)
				}
				updateID = existing.UpdateID
			}

			storedID, idErr := NewUpdateID(updateID)
			if idErr != nil {
				s.logError(opApplyUpdates, reasonInvalidUpdateID, idErr, zap.String("slide_id", slideID.String()))
				return newServiceError(opApplyUpdates, reasonInvalidUpdateID, idErr)
			}
			outcomes = append(outcomes, UpdateOutcome{UpdateID: storedID, Duplicate: duplicate})

			snapshotUpdateID := envelope.SnapshotUpdateID.Int64()
			if snapshotUpdateID > updateID {
				snapshotUpdateID = updateID
			}
			if err := s.upsertSnapshot(tx, slideID, envelope.SnapshotB64, snapshotUpdateID, !duplicate); err != nil {
				s.logError(opApplyUpdates, reasonSnapshotFailed, err, zap.String("slide_id", slideID.String()))
				return newServiceError(opApplyUpdates, reasonSnapshotFailed, err)
			}
		}
		return nil
	})
	if txnErr != nil {
		return nil, txnErr
	}
	return outcomes, nil
}

// ListUpdates returns the slide's updates with identifiers greater than afterID.
func (s *Service) ListUpdates(ctx context.Context, slideID slides.SlideID, afterID UpdateID) ([]UpdateRecord, error) {
	var stored []Update
	if err := s.db.WithContext(ctx).
		Where("slide_id = ? AND update_id > ?", slideID.String(), afterID.Int64()).
		Order("update_id ASC").
		Find(&stored).Error; err != nil {
		s.logError(opListUpdates, reasonQueryFailed, err, zap.String("slide_id", slideID.String()))
		return nil, newServiceError(opListUpdates, reasonQueryFailed, err)
	}

	records := make([]UpdateRecord, 0, len(stored))
	for _, row := range stored {
		updateID, idErr := NewUpdateID(row.UpdateID)
		if idErr != nil {
			s.logError(opListUpdates, reasonInvalidUpdateID, idErr, zap.String("slide_id", row.SlideID))
			return nil, newServiceError(opListUpdates, reasonInvalidUpdateID, idErr)
		}
		updateB64, payloadErr := NewUpdateBase64(row.UpdateB64)
		if payloadErr != nil {
			s.logError(opListUpdates, reasonInvalidUpdateData, payloadErr, zap.String("slide_id", row.SlideID))
			return nil, newServiceError(opListUpdates, reasonInvalidUpdateRow, payloadErr)
		}
		records = append(records, UpdateRecord{UpdateID: updateID, UpdateB64: updateB64})
	}
	return records, nil
}

// GetSnapshot returns the compacted snapshot for a slide namespace, or false
// when the namespace holds no content yet.
func (s *Service) GetSnapshot(ctx context.Context, slideID slides.SlideID) (SnapshotBase64, UpdateID, bool, error) {
	var snapshot Snapshot
	err := s.db.WithContext(ctx).
		Where("slide_id = ?", slideID.String()).
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, false, nil
	}
	if err != nil {
		s.logError(opGetSnapshot, reasonQueryFailed, err, zap.String("slide_id", slideID.String()))
		return "", 0, false, newServiceError(opGetSnapshot, reasonQueryFailed, err)
	}

	payload, payloadErr := NewSnapshotBase64(snapshot.SnapshotB64)
	if payloadErr != nil {
		return "", 0, false, newServiceError(opGetSnapshot, reasonInvalidUpdateData, payloadErr)
	}
	updateID, idErr := NewUpdateID(snapshot.SnapshotUpdateID)
	if idErr != nil {
		return "", 0, false, newServiceError(opGetSnapshot, reasonInvalidUpdateID, idErr)
	}
	return payload, updateID, true, nil
}

func (s *Service) upsertSnapshot(tx *gorm.DB, slideID slides.SlideID, snapshot SnapshotBase64, snapshotUpdateID int64, allowEqualUpdateID bool) error {
	var existing Snapshot
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("slide_id = ?", slideID.String()).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&Snapshot{
			SlideID:          slideID.String(),
			SnapshotB64:      snapshot.String(),
			SnapshotUpdateID: snapshotUpdateID,
		}).Error
	}
	if err != nil {
		return err
	}
	if snapshotUpdateID < existing.SnapshotUpdateID {
		return nil
	}
	if snapshotUpdateID == existing.SnapshotUpdateID {
		incomingHash, hashErr := hashPayload(snapshot.String())
		if hashErr != nil {
			return hashErr
		}
		existingHash, existingErr := hashPayload(existing.SnapshotB64)
		if existingErr != nil {
			return existingErr
		}
		if incomingHash == existingHash || !allowEqualUpdateID {
			return nil
		}
	}
	existing.SnapshotB64 = snapshot.String()
	existing.SnapshotUpdateID = snapshotUpdateID
	return tx.Save(&existing).Error
}

func hashPayload(payload string) (string, error) {
	rawBytes, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(rawBytes)
	return hex.EncodeToString(sum[:]), nil
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
	s.logger.Error("content service error", attrs...)
}
