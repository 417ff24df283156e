package sync

import (
	"context"
	"fmt"
	gosync "sync"

	"github.com/stretchr/testify/mock"

	"github.com/drallgood/audiohardshelf/internal/models"
)

// fakeSource is an in-memory SourceClient.
type fakeSource struct {
	mu gosync.Mutex

	pingOK       bool
	pingErr      error
	libraries    []models.Library
	librariesErr error
	inProgress   map[string][]models.InProgressItem
	listingErr   map[string]error
	progress     []models.SourceProgressRecord
	progressErr  error
	details      map[string]models.BookMetadata
	panicOn      map[string]bool

	detailCalls []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pingOK:     true,
		inProgress: map[string][]models.InProgressItem{},
		listingErr: map[string]error{},
		details:    map[string]models.BookMetadata{},
		panicOn:    map[string]bool{},
	}
}

func (f *fakeSource) Ping(context.Context) (bool, error) { return f.pingOK, f.pingErr }

func (f *fakeSource) ListLibraries(context.Context) ([]models.Library, error) {
	return f.libraries, f.librariesErr
}

func (f *fakeSource) ListInProgressItems(_ context.Context, libraryID string, _ int) ([]models.InProgressItem, error) {
	if err := f.listingErr[libraryID]; err != nil {
		return nil, err
	}
	return f.inProgress[libraryID], nil
}

func (f *fakeSource) GetUserProgress(context.Context) ([]models.SourceProgressRecord, error) {
	return f.progress, f.progressErr
}

func (f *fakeSource) GetItemDetails(_ context.Context, itemID string) models.Metadata {
	f.mu.Lock()
	f.detailCalls = append(f.detailCalls, itemID)
	f.mu.Unlock()

	if f.panicOn[itemID] {
		panic(fmt.Sprintf("metadata for %s exploded", itemID))
	}
	md, ok := f.details[itemID]
	if !ok {
		return models.Unavailable(itemID, "not found")
	}
	return models.Found(itemID, md)
}

// withBooks registers listening books in one book library, all in the
// library listing.
func (f *fakeSource) withBooks(books ...models.BookMetadata) *fakeSource {
	f.libraries = []models.Library{{ID: "lib", Name: "Books", MediaType: models.MediaTypeBook}}
	for i, b := range books {
		id := fmt.Sprintf("li_%d", i+1)
		f.inProgress["lib"] = append(f.inProgress["lib"], models.InProgressItem{ID: id, LibraryID: "lib"})
		f.progress = append(f.progress, listening(id, 0.25))
		f.details[id] = b
	}
	return f
}

func listening(id string, progress float64) models.SourceProgressRecord {
	return models.SourceProgressRecord{ItemID: id, MediaType: models.MediaTypeBook, Progress: progress}
}

// mockDestination is a testify mock of DestinationClient.
type mockDestination struct {
	mock.Mock
}

func (m *mockDestination) FindByIdentifier(ctx context.Context, kind models.IdentifierKind, value string) ([]models.DestinationBookIdentity, error) {
	args := m.Called(ctx, kind, value)
	var out []models.DestinationBookIdentity
	if v := args.Get(0); v != nil {
		out = v.([]models.DestinationBookIdentity)
	}
	return out, args.Error(1)
}

func (m *mockDestination) SearchByTitleAuthor(ctx context.Context, title, author string) ([]models.SearchCandidate, error) {
	args := m.Called(ctx, title, author)
	var out []models.SearchCandidate
	if v := args.Get(0); v != nil {
		out = v.([]models.SearchCandidate)
	}
	return out, args.Error(1)
}

func (m *mockDestination) GetTrackingState(ctx context.Context, identity models.DestinationBookIdentity) (*models.TrackingState, error) {
	args := m.Called(ctx, identity)
	var out *models.TrackingState
	if v := args.Get(0); v != nil {
		out = v.(*models.TrackingState)
	}
	return out, args.Error(1)
}

func (m *mockDestination) CreateTracking(ctx context.Context, identity models.DestinationBookIdentity, progress float64, finished bool) (*models.TrackingState, error) {
	args := m.Called(ctx, identity, progress, finished)
	var out *models.TrackingState
	if v := args.Get(0); v != nil {
		out = v.(*models.TrackingState)
	}
	return out, args.Error(1)
}

func (m *mockDestination) UpdateProgress(ctx context.Context, identity models.DestinationBookIdentity, state *models.TrackingState, progress float64) error {
	return m.Called(ctx, identity, state, progress).Error(0)
}

func (m *mockDestination) MarkFinished(ctx context.Context, identity models.DestinationBookIdentity, state *models.TrackingState) error {
	return m.Called(ctx, identity, state).Error(0)
}
