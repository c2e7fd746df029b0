package content

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/odysseylabs/odyssey/backend/internal/slides"
)

const (
	baseUpdateB64     = "AQID"
	baseSnapshotB64   = "AQID"
	secondUpdateB64   = "AQIE"
	secondSnapshotB64 = "AQIE"
)

func mustContentService(testContext *testing.T) *Service {
	testContext.Helper()
	dsn := fmt.Sprintf("file:odyssey_content_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	if err := database.AutoMigrate(&Update{}, &Snapshot{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: database,
		Clock: func() time.Time {
			return time.Unix(1700000000, 0).UTC()
		},
	})
	if err != nil {
		testContext.Fatalf("failed to build service: %v", err)
	}
	return service
}

func mustEnvelope(testContext *testing.T, updateB64, snapshotB64 string, snapshotUpdateID int64) UpdateEnvelope {
	testContext.Helper()
	update, err := NewUpdateBase64(updateB64)
	if err != nil {
		testContext.Fatalf("unexpected update error: %v", err)
	}
	snapshot, err := NewSnapshotBase64(snapshotB64)
	if err != nil {
		testContext.Fatalf("unexpected snapshot error: %v", err)
	}
	id, err := NewUpdateID(snapshotUpdateID)
	if err != nil {
		testContext.Fatalf("unexpected update id error: %v", err)
	}
	return UpdateEnvelope{UpdateB64: update, SnapshotB64: snapshot, SnapshotUpdateID: id}
}

func TestApplyUpdatesStoresSnapshot(testContext *testing.T) {
	service := mustContentService(testContext)
	slideID := slides.SlideID("slide-content")

	envelope := mustEnvelope(testContext, baseUpdateB64, baseSnapshotB64, 0)
	outcomes, err := service.ApplyUpdates(context.Background(), slideID, []UpdateEnvelope{envelope})
	if err != nil {
		testContext.Fatalf("apply updates failed: %v", err)
	}
	if len(outcomes) != 1 {
		testContext.Fatalf("expected single outcome, got %d", len(outcomes))
	}
	if outcomes[0].Duplicate {
		testContext.Fatalf("expected update to be new")
	}

	snapshot, _, found, err := service.GetSnapshot(context.Background(), slideID)
	if err != nil {
		testContext.Fatalf("get snapshot failed: %v", err)
	}
	if !found || snapshot.String() == "" {
		testContext.Fatalf("expected snapshot to be stored")
	}
}

func TestApplyUpdatesDeduplicates(testContext *testing.T) {
	service := mustContentService(testContext)
	slideID := slides.SlideID("slide-dup")

	envelope := mustEnvelope(testContext, baseUpdateB64, baseSnapshotB64, 0)
	first, err := service.ApplyUpdates(context.Background(), slideID, []UpdateEnvelope{envelope})
	if err != nil {
		testContext.Fatalf("first apply failed: %v", err)
	}
	second, err := service.ApplyUpdates(context.Background(), slideID, []UpdateEnvelope{envelope})
	if err != nil {
		testContext.Fatalf("second apply failed: %v", err)
	}
	if !second[0].Duplicate {
		testContext.Fatalf("expected duplicate update")
	}
	if second[0].UpdateID != first[0].UpdateID {
		testContext.Fatalf("expected duplicate to reuse update id")
	}
}

func TestListUpdatesRespectsCursor(testContext *testing.T) {
	service := mustContentService(testContext)
	slideID := slides.SlideID("slide-cursor")

	first, err := service.ApplyUpdates(context.Background(), slideID,
		[]UpdateEnvelope{mustEnvelope(testContext, baseUpdateB64, baseSnapshotB64, 0)})
	if err != nil {
		testContext.Fatalf("first apply failed: %v", err)
	}
	second, err := service.ApplyUpdates(context.Background(), slideID,
		[]UpdateEnvelope{mustEnvelope(testContext, secondUpdateB64, secondSnapshotB64, 0)})
	if err != nil {
		testContext.Fatalf("second apply failed: %v", err)
	}
	if second[0].UpdateID <= first[0].UpdateID {
		testContext.Fatalf("expected update ids to increase")
	}

	updates, err := service.ListUpdates(context.Background(), slideID, first[0].UpdateID)
	if err != nil {
		testContext.Fatalf("list updates failed: %v", err)
	}
	if len(updates) != 1 {
		testContext.Fatalf("expected single update after cursor, got %d", len(updates))
	}
	if updates[0].UpdateID != second[0].UpdateID {
		testContext.Fatalf("expected the later update after the cursor")
	}
}

func TestSnapshotAdvancesMonotonically(testContext *testing.T) {
	service := mustContentService(testContext)
	slideID := slides.SlideID("slide-snapshot")

	first, err := service.ApplyUpdates(context.Background(), slideID,
		[]UpdateEnvelope{mustEnvelope(testContext, baseUpdateB64, baseSnapshotB64, 0)})
	if err != nil {
		testContext.Fatalf("first apply failed: %v", err)
	}
	if _, err := service.ApplyUpdates(context.Background(), slideID,
		[]UpdateEnvelope{mustEnvelope(testContext, secondUpdateB64, secondSnapshotB64, first[0].UpdateID.Int64()+1)}); err != nil {
		testContext.Fatalf("second apply failed: %v", err)
	}

	snapshot, snapshotUpdateID, found, err := service.GetSnapshot(context.Background(), slideID)
	if err != nil || !found {
		testContext.Fatalf("get snapshot failed: %v", err)
	}
	if snapshot.String() != secondSnapshotB64 {
		testContext.Fatalf("expected latest snapshot, got %q", snapshot.String())
	}

	// A stale snapshot from a lagging client never rolls the stored one back.
	if _, err := service.ApplyUpdates(context.Background(), slideID,
		[]UpdateEnvelope{mustEnvelope(testContext, "AQIF", baseSnapshotB64, 0)}); err != nil {
		testContext.Fatalf("third apply failed: %v", err)
	}
	_, laterID, _, err := service.GetSnapshot(context.Background(), slideID)
	if err != nil {
		testContext.Fatalf("get snapshot failed: %v", err)
	}
	if laterID < snapshotUpdateID {
		testContext.Fatalf("expected snapshot update id to never regress")
	}
}

func TestGetSnapshotOnEmptyNamespace(testContext *testing.T) {
	service := mustContentService(testContext)
	_, _, found, err := service.GetSnapshot(context.Background(), slides.SlideID("slide-empty"))
	if err != nil {
		testContext.Fatalf("get snapshot failed: %v", err)
	}
	if found {
		testContext.Fatalf("expected empty namespace to report no snapshot")
	}
}

func TestDeleteNamespacePurgesEverything(testContext *testing.T) {
	service := mustContentService(testContext)
	slideID := slides.SlideID("slide-purge")

	if _, err := service.ApplyUpdates(context.Background(), slideID,
		[]UpdateEnvelope{mustEnvelope(testContext, baseUpdateB64, baseSnapshotB64, 0)}); err != nil {
		testContext.Fatalf("apply failed: %v", err)
	}
	if err := service.DeleteNamespace(context.Background(), slideID); err != nil {
		testContext.Fatalf("delete namespace failed: %v", err)
	}

	updates, err := service.ListUpdates(context.Background(), slideID, 0)
	if err != nil {
		testContext.Fatalf("list updates failed: %v", err)
	}
	if len(updates) != 0 {
		testContext.Fatalf("expected no updates after purge, got %d", len(updates))
	}
	_, _, found, err := service.GetSnapshot(context.Background(), slideID)
	if err != nil {
		testContext.Fatalf("get snapshot failed: %v", err)
	}
	if found {
		testContext.Fatalf("expected snapshot to be purged")
	}
}

func TestRejectsInvalidPayloads(testContext *testing.T) {
	if _, err := NewUpdateBase64("not base64!!"); err == nil {
		testContext.Fatalf("expected invalid base64 to be rejected")
	}
	if _, err := NewSnapshotBase64(""); err == nil {
		testContext.Fatalf("expected empty snapshot to be rejected")
	}
	if _, err := NewUpdateID(-1); err == nil {
		testContext.Fatalf("expected negative update id to be rejected")
	}
}
