package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func articleHTML(title, body string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>" + title + "</title></head><body><article><h1>" + title + "</h1>")
	for i := 0; i < 3; i++ {
		b.WriteString("<p>" + body + " This paragraph pads the page so readability treats it as real content worth extracting.</p>")
	}
	for _, l := range links {
		b.WriteString(fmt.Sprintf(`<a href="%s">link</a>`, l))
	}
	b.WriteString("</article></body></html>")
	return b.String()
}

func newTestCrawler(t *testing.T) *WebCrawler {
	return New(Config{
		OutputDir: t.TempDir(),
		Delay:     time.Millisecond,
	})
}

func TestCrawl_FollowsSameHostLinks(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleHTML("Home", "Welcome to the docs.", "/guide", "https://other-host.example/page"))
	})
	mux.HandleFunc("/guide", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleHTML("Guide", "Step by step instructions."))
	})

	c := newTestCrawler(t)
	result, err := c.Crawl(context.Background(), srv.URL+"/", 10)
	require.NoError(t, err)

	require.Len(t, result.Pages, 2)
	assert.Equal(t, "Home", result.Pages[0].Title)
	assert.Equal(t, "Guide", result.Pages[1].Title)
	assert.Contains(t, result.Pages[1].Markdown, "Step by step")
}

func TestCrawl_RespectsMaxPages(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		fmt.Fprint(w, articleHTML("Page "+path, "Body for "+path, path+"x")) // always links somewhere new
	})

	c := newTestCrawler(t)
	result, err := c.Crawl(context.Background(), srv.URL+"/", 3)
	require.NoError(t, err)
	assert.Len(t, result.Pages, 3)
}

func TestCrawl_SkipsNonContentURLs(t *testing.T) {
	var feedHits int
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleHTML("Home", "Main page.", "/feed.xml", "/logo.png", "/docs"))
	})
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		feedHits++
	})
	mux.HandleFunc("/docs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleHTML("Docs", "Documentation body."))
	})

	c := newTestCrawler(t)
	result, err := c.Crawl(context.Background(), srv.URL+"/", 10)
	require.NoError(t, err)

	assert.Len(t, result.Pages, 2)
	assert.Zero(t, feedHits)
}

func TestCrawl_ContinuesPastFetchErrors(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleHTML("Home", "Main page.", "/broken", "/ok"))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleHTML("OK", "Still reachable."))
	})

	c := newTestCrawler(t)
	result, err := c.Crawl(context.Background(), srv.URL+"/", 10)
	require.NoError(t, err)
	assert.Len(t, result.Pages, 2)
}

func TestCrawl_WritesMarkdownFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleHTML("Getting Started", "Install the thing."))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := New(Config{OutputDir: dir, Delay: time.Millisecond})
	result, err := c.Crawl(context.Background(), srv.URL+"/", 1)
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "000_getting_started.md", entries[0].Name())

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "source: "+srv.URL)
	assert.Contains(t, string(data), "Install the thing.")
}

func TestCrawl_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleHTML("Home", "Body.", "/a", "/b"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestCrawler(t)
	_, err := c.Crawl(ctx, srv.URL+"/", 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsNonContentURL(t *testing.T) {
	nonContent := []string{
		"https://example.com/feed.xml",
		"https://example.com/opensearch.xml",
		"https://example.com/sitemap.xml",
		"https://example.com/logo.png",
		"https://example.com/archive.tar.gz",
		"https://example.com/style.css?v=2",
	}
	for _, u := range nonContent {
		assert.True(t, IsNonContentURL(u), u)
	}

	content := []string{
		"https://example.com/docs/getting-started",
		"https://example.com/guide.html",
		"https://example.com/",
	}
	for _, u := range content {
		assert.False(t, IsNonContentURL(u), u)
	}
}

func TestExtractLinks_ResolvesAndDedupes(t *testing.T) {
	base, _ := url.Parse("https://example.com/docs/")
	body := `<html><body>
		<a href="intro">one</a>
		<a href="/abs">two</a>
		<a href="intro#section">dupe after fragment strip</a>
		<a href="mailto:x@example.com">skip</a>
	</body></html>`

	links := extractLinks(body, base)
	assert.Equal(t, []string{
		"https://example.com/docs/intro",
		"https://example.com/abs",
	}, links)
}
