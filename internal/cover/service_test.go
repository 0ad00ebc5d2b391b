package cover

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"aircal/internal/cache"
	"aircal/internal/model"
	"aircal/internal/store"
)

// MockImageSource is a testify mock of ImageSource.
type MockImageSource struct {
	mock.Mock
}

func (m *MockImageSource) ImageFor(ctx context.Context, seed string, width, height int) (string, error) {
	args := m.Called(ctx, seed, width, height)
	return args.String(0), args.Error(1)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestService(src ImageSource, clock *fakeClock) (*Service, *cache.CoverCache) {
	c := cache.LoadCover(store.NewMemoryStore(), 0, clock.Now)
	return NewService(c, src, "https://img.test", 640, 320), c
}

func TestCoverFor_CachesWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)}
	src := new(MockImageSource)
	svc, _ := newTestService(src, clock)

	seed := Seed([]string{"coffee", "morning"})
	src.On("ImageFor", mock.Anything, seed, 640, 320).Return("https://img.test/a.jpg", nil).Once()

	first := svc.CoverFor(context.Background(), model.Event{Summary: "☕ Morning"})
	assert.Equal(t, "https://img.test/a.jpg", first.ImageURL)
	assert.Equal(t, []string{"coffee", "morning"}, first.Keywords)
	assert.Equal(t, clock.now, first.FetchedAt)

	// same event type, different emoji/case: served from cache
	clock.now = clock.now.Add(6 * 24 * time.Hour)
	second := svc.CoverFor(context.Background(), model.Event{Summary: "morning!"})
	assert.Equal(t, first, second)

	src.AssertExpectations(t)
}

func TestCoverFor_RecomputesAfterExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)}
	src := new(MockImageSource)
	svc, c := newTestService(src, clock)

	src.On("ImageFor", mock.Anything, mock.Anything, 640, 320).Return("https://img.test/x.jpg", nil).Twice()

	svc.CoverFor(context.Background(), model.Event{Summary: "Yoga"})
	clock.now = clock.now.Add(cache.DefaultCoverTTL)
	again := svc.CoverFor(context.Background(), model.Event{Summary: "Yoga"})

	assert.Equal(t, clock.now, again.FetchedAt)
	assert.Equal(t, 1, c.Len())
	src.AssertExpectations(t)
}

func TestCoverFor_FallbackKeywordsAndURLOnFailure(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	src := new(MockImageSource)
	svc, c := newTestService(src, clock)

	seed := Seed(FallbackKeywords)
	src.On("ImageFor", mock.Anything, seed, 640, 320).Return("", errors.New("timeout")).Once()

	entry := svc.CoverFor(context.Background(), model.Event{Summary: "1:1"})
	assert.Equal(t, FallbackKeywords, entry.Keywords)
	assert.Equal(t, "https://img.test/seed/"+seed+"/640/320", entry.ImageURL)

	cached, ok := c.Get(EventTypeKey("1:1"))
	require.True(t, ok)
	assert.Equal(t, entry.ImageURL, cached.ImageURL)
	src.AssertExpectations(t)
}

func TestCoverFor_CancelledLookupIsNotCached(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	src := new(MockImageSource)
	svc, c := newTestService(src, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	seed := Seed(FallbackKeywords)
	src.On("ImageFor", mock.Anything, seed, 640, 320).Return("", context.Canceled).Once()
	src.On("ImageFor", mock.Anything, seed, 640, 320).Return("https://fastly.img.test/id/7/640/320", nil).Once()

	entry := svc.CoverFor(ctx, model.Event{Summary: "1:1"})
	assert.Equal(t, "https://img.test/seed/"+seed+"/640/320", entry.ImageURL)
	_, ok := c.Get(EventTypeKey("1:1"))
	assert.False(t, ok)

	entry = svc.CoverFor(context.Background(), model.Event{Summary: "1:1"})
	assert.Equal(t, "https://fastly.img.test/id/7/640/320", entry.ImageURL)
	cached, ok := c.Get(EventTypeKey("1:1"))
	require.True(t, ok)
	assert.Equal(t, entry.ImageURL, cached.ImageURL)
	src.AssertExpectations(t)
}

func TestCovers_OneLookupPerEventType(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	src := new(MockImageSource)
	svc, _ := newTestService(src, clock)
	src.On("ImageFor", mock.Anything, mock.Anything, 640, 320).Return("https://img.test/gym.jpg", nil).Once()

	spans := []model.LocationSpan{
		{Location: "A", Representative: model.Event{Summary: "Gym"}},
		{Location: "B", Representative: model.Event{Summary: "gym!"}},
	}
	covers := svc.Covers(context.Background(), spans)

	assert.Equal(t, map[string]string{"Gym": "https://img.test/gym.jpg", "gym!": "https://img.test/gym.jpg"}, covers)
	src.AssertExpectations(t)
}

func TestPicsum_SeedURLIsPure(t *testing.T) {
	p := NewPicsum("", false, 0)
	u1, err := p.ImageFor(context.Background(), Seed([]string{"a", "b"}), 800, 400)
	require.NoError(t, err)
	u2, _ := p.ImageFor(context.Background(), Seed([]string{"a", "b"}), 800, 400)
	u3, _ := p.ImageFor(context.Background(), Seed([]string{"b", "a"}), 800, 400)

	assert.Equal(t, u1, u2)
	assert.NotEqual(t, u1, u3)
	assert.Contains(t, u1, DefaultPicsumEndpoint+"/seed/")
}

func TestPicsum_ResolveFollowsRedirectOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		switch r.URL.Path {
		case "/seed/abc/10/20":
			w.Header().Set("Location", "https://fastly.test/id/42/10/20.jpg")
			w.WriteHeader(http.StatusFound)
		case "/seed/direct/10/20":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewPicsum(srv.URL, true, time.Second)

	u, err := p.ImageFor(context.Background(), "abc", 10, 20)
	require.NoError(t, err)
	assert.Equal(t, "https://fastly.test/id/42/10/20.jpg", u)

	u, err = p.ImageFor(context.Background(), "direct", 10, 20)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/seed/direct/10/20", u)

	_, err = p.ImageFor(context.Background(), "missing", 10, 20)
	assert.Error(t, err)
}
