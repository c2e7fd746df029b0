package slides

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDProvider struct {
	prefix string
	next   int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%d", p.prefix, p.next), nil
}

func newTestService(testContext *testing.T) *Service {
	testContext.Helper()
	dsn := fmt.Sprintf("file:odyssey_slides_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Presentation{}, &Slide{}, &Share{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
		IDProvider: &sequentialIDProvider{prefix: "id"},
	})
	if err != nil {
		testContext.Fatalf("failed to build service: %v", err)
	}
	return service
}

func mustPresentationID(testContext *testing.T, value string) PresentationID {
	testContext.Helper()
	id, err := NewPresentationID(value)
	if err != nil {
		testContext.Fatalf("unexpected presentation id error: %v", err)
	}
	return id
}

func mustSlideID(testContext *testing.T, value string) SlideID {
	testContext.Helper()
	id, err := NewSlideID(value)
	if err != nil {
		testContext.Fatalf("unexpected slide id error: %v", err)
	}
	return id
}

func mustUserID(testContext *testing.T, value string) UserID {
	testContext.Helper()
	id, err := NewUserID(value)
	if err != nil {
		testContext.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustCreatePresentation(testContext *testing.T, service *Service, owner string) (Presentation, Slide) {
	testContext.Helper()
	presentation, slide, err := service.CreatePresentation(context.Background(), "", mustUserID(testContext, owner))
	if err != nil {
		testContext.Fatalf("create presentation failed: %v", err)
	}
	return presentation, slide
}

func mustCreateSlide(testContext *testing.T, service *Service, presentationID string, position int) Slide {
	testContext.Helper()
	slide, err := service.CreateSlide(context.Background(), mustPresentationID(testContext, presentationID), position)
	if err != nil {
		testContext.Fatalf("create slide failed: %v", err)
	}
	return slide
}

func assertPositions(testContext *testing.T, service *Service, presentationID string, want ...string) {
	testContext.Helper()
	ordered, err := service.ListSlides(context.Background(), mustPresentationID(testContext, presentationID))
	if err != nil {
		testContext.Fatalf("list slides failed: %v", err)
	}
	if len(ordered) != len(want) {
		testContext.Fatalf("expected %d slides, got %d", len(want), len(ordered))
	}
	for i, slide := range ordered {
		if slide.ID != want[i] {
			testContext.Fatalf("position %d: expected slide %s, got %s", i, want[i], slide.ID)
		}
		if slide.Position != i {
			testContext.Fatalf("slide %s: expected dense position %d, got %d", slide.ID, i, slide.Position)
		}
	}
}
