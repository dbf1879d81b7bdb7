package static

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const fixtureHTML = `<!DOCTYPE html>
<html>
<head><title> Widgets — Catalog </title></head>
<body>
  <h1>Widgets</h1>
  <div class="content"><p>In stock</p></div>
  <a class="next" href="/page/2">next</a>
</body>
</html>`

func newPage(t *testing.T, srv *httptest.Server) *Page {
	t.Helper()

	launcher := NewLauncher(Config{Timeout: 5 * time.Second})
	browser, err := launcher.Launch(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = browser.Close() })

	page, err := browser.NewPage(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = page.Close() })

	require.NoError(t, page.Navigate(context.Background(), srv.URL))
	return page.(*Page)
}

func TestPageSelectors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(fixtureHTML))
	}))
	defer srv.Close()

	page := newPage(t, srv)
	ctx := context.Background()

	title, err := page.Title(ctx)
	require.NoError(t, err)
	require.Equal(t, "Widgets — Catalog", title)

	text, err := page.Text(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, "Widgets", text)

	html, err := page.HTML(ctx, ".content")
	require.NoError(t, err)
	require.Equal(t, "<p>In stock</p>", html)

	href, err := page.Attribute(ctx, "a.next", "href")
	require.NoError(t, err)
	require.Equal(t, "/page/2", href)
}

func TestPageSelectorMisses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(fixtureHTML))
	}))
	defer srv.Close()

	page := newPage(t, srv)
	ctx := context.Background()

	_, err := page.Text(ctx, "#does-not-exist")
	require.ErrorContains(t, err, "matched nothing")

	_, err = page.Attribute(ctx, "a.next", "rel")
	require.ErrorContains(t, err, "not present")
}

func TestNavigateHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	launcher := NewLauncher(Config{})
	browser, err := launcher.Launch(context.Background())
	require.NoError(t, err)
	defer browser.Close()

	page, err := browser.NewPage(context.Background())
	require.NoError(t, err)
	defer page.Close()

	require.Error(t, page.Navigate(context.Background(), srv.URL))
}

func TestReadBeforeNavigate(t *testing.T) {
	t.Parallel()

	launcher := NewLauncher(Config{})
	browser, err := launcher.Launch(context.Background())
	require.NoError(t, err)
	defer browser.Close()

	page, err := browser.NewPage(context.Background())
	require.NoError(t, err)
	defer page.Close()

	_, err = page.Text(context.Background(), "h1")
	require.ErrorContains(t, err, "not loaded")
}
