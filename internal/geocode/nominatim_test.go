package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aircal/internal/model"
)

func TestNominatim_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))

		switch r.URL.Query().Get("q") {
		case "Paris":
			_, _ = w.Write([]byte(`[{"lat":"48.8566","lon":"2.3522","display_name":"Paris, France"}]`))
		case "Garbage":
			_, _ = w.Write([]byte(`[{"lat":"north","lon":"2"}]`))
		case "Down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	n := NewNominatim(srv.URL+"/", "test-agent", time.Second)
	ctx := context.Background()

	coord, ok, err := n.Resolve(ctx, "Paris")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.Coordinate{Lat: 48.8566, Lng: 2.3522}, coord)

	_, ok, err = n.Resolve(ctx, "Atlantis")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = n.Resolve(ctx, "Garbage")
	assert.Error(t, err)

	_, _, err = n.Resolve(ctx, "Down")
	assert.Error(t, err)
}
