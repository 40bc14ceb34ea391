package images

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const commonsBody = `{"query":{"pages":{
"11":{"title":"File:Leaf scan.pdf","index":1,"imageinfo":[{"url":"https://u/leaf.pdf","mime":"application/pdf"}]},
"12":{"title":"File:Leaf.jpg","index":2,"imageinfo":[{"url":"https://u/leaf.jpg","thumburl":"https://u/800px-leaf.jpg","mime":"image/jpeg"}]},
"13":{"title":"File:Tree.png","index":3,"imageinfo":[{"url":"https://u/tree.png","mime":"image/png"}]}
}}}`

type captured struct {
	path      string
	query     url.Values
	userAgent string
}

func newCommonsServer(t *testing.T, status int, body string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.query = r.URL.Query()
		got.userAgent = r.UserAgent()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestWikimediaFinderPicksFirstImage(t *testing.T) {
	srv, got := newCommonsServer(t, http.StatusOK, commonsBody)

	f := NewWikimediaFinder(WikimediaConfig{BaseURL: srv.URL, Timeout: time.Second})
	img, err := f.FindImage(context.Background(), "photosynthesis leaf")
	require.NoError(t, err)

	assert.Equal(t, "https://u/800px-leaf.jpg", img.URL)
	assert.Equal(t, "wikimedia", img.Source)
	assert.Equal(t, "Leaf.jpg", img.Title)

	assert.Equal(t, "/w/api.php", got.path)
	assert.Equal(t, "photosynthesis leaf", got.query.Get("gsrsearch"))
	assert.Equal(t, "6", got.query.Get("gsrnamespace"))
	assert.Contains(t, got.userAgent, "slidegate")
}

func TestWikimediaFinderNoResults(t *testing.T) {
	srv, _ := newCommonsServer(t, http.StatusOK, `{"batchcomplete":""}`)

	f := NewWikimediaFinder(WikimediaConfig{BaseURL: srv.URL})
	_, err := f.FindImage(context.Background(), "zzzz")
	assert.True(t, errors.Is(err, ErrNoImage))
}

func TestWikimediaFinderUpstreamError(t *testing.T) {
	srv, _ := newCommonsServer(t, http.StatusServiceUnavailable, `{}`)

	f := NewWikimediaFinder(WikimediaConfig{BaseURL: srv.URL})
	_, err := f.FindImage(context.Background(), "leaf")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoImage))
}

func TestWikimediaFinderEmptyQuery(t *testing.T) {
	f := NewWikimediaFinder(WikimediaConfig{BaseURL: "http://127.0.0.1:0"})
	_, err := f.FindImage(context.Background(), "  ")
	assert.True(t, errors.Is(err, ErrNoImage))
}
