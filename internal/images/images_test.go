package images

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matteo-lafrancesca/streamlayer/internal/api"
	"github.com/matteo-lafrancesca/streamlayer/internal/auth"
	"github.com/matteo-lafrancesca/streamlayer/internal/cache"
	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
)

type staticURLs struct {
	base string
}

func (u staticURLs) CoverURL(coverID string, size int) (string, error) {
	return api.WithAuthParam(u.base+"/covers/"+coverID, "tok")
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newTestService(t *testing.T, handler http.Handler, store cache.Store) *Service {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tokens := auth.NewManager("proj", func(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
		return domain.TokenPair{AccessToken: "tok", RefreshToken: "ref"}, nil
	}, nil)
	tokens.SetTokens("tok", "ref")

	apiClient := api.NewClient(srv.URL, tokens, nil)
	return NewService(cache.NewBlobCache(), store, apiClient, tokens, staticURLs{base: srv.URL}, nil)
}

func TestCoverFetchResizeAndMemoryHit(t *testing.T) {
	var requests atomic.Int32
	cover := testJPEG(t, 800, 600)

	mux := http.NewServeMux()
	mux.HandleFunc("/covers/c1", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write(cover)
	})

	s := newTestService(t, mux, nil)

	blob, err := s.Cover(context.Background(), "c1", 256)
	require.NoError(t, err)

	img, _, err := image.Decode(bytes.NewReader(blob.Data))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 192, img.Bounds().Dy())

	// Second read is served from the blob cache.
	again, err := s.Cover(context.Background(), "c1", 256)
	require.NoError(t, err)
	assert.Same(t, blob, again)
	assert.Equal(t, int32(1), requests.Load())
}

func TestCoverServedFromPersistentTier(t *testing.T) {
	var requests atomic.Int32
	cover := testJPEG(t, 300, 300)

	mux := http.NewServeMux()
	mux.HandleFunc("/covers/c2", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write(cover)
	})

	store, err := cache.NewBoltStore(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	s := newTestService(t, mux, store)

	_, err = s.Cover(context.Background(), "c2", 128)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := store.Get(cache.StoreImages, "album-c2-128")
		return ok
	}, time.Second, 10*time.Millisecond)

	// Dropping the memory tier forces the durable tier, not the network.
	s.blobs.Clear()

	blob, err := s.Cover(context.Background(), "c2", 128)
	require.NoError(t, err)
	assert.NotEmpty(t, blob.Data)
	assert.Equal(t, int32(1), requests.Load())
}

func TestCoverRefreshesTokenOn401(t *testing.T) {
	var requests atomic.Int32
	cover := testJPEG(t, 64, 64)

	mux := http.NewServeMux()
	mux.HandleFunc("/covers/c3", func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write(cover)
	})

	s := newTestService(t, mux, nil)

	blob, err := s.Cover(context.Background(), "c3", 64)
	require.NoError(t, err)
	assert.NotEmpty(t, blob.Data)
	assert.Equal(t, int32(2), requests.Load())
}

func TestCoverKeepsOriginalWhenNotAnImage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/covers/c4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not an image"))
	})

	s := newTestService(t, mux, nil)

	blob, err := s.Cover(context.Background(), "c4", 64)
	require.NoError(t, err)
	assert.Equal(t, []byte("not an image"), blob.Data)
}
