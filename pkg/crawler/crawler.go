// Package crawler fetches documentation pages breadth-first from a starting
// URL, extracts the main content, and converts it to markdown. The pipeline
// consumes it only through the Crawler contract, so alternative fetchers can
// be swapped in.
package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
	"github.com/hashicorp/go-hclog"
	"github.com/iancoleman/strcase"
	"golang.org/x/net/html"
)

// Page is one crawled page.
type Page struct {
	URL      string
	Title    string
	Markdown string
}

// Result is the outcome of one crawl.
type Result struct {
	Pages     []Page
	OutputDir string
}

// Crawler is the contract the orchestrator consumes.
type Crawler interface {
	Crawl(ctx context.Context, startURL string, maxPages int) (*Result, error)
}

// nonContentMarkers matches URLs that never carry prose worth extracting.
// The topic extractor shares this filter.
var nonContentMarkers = []string{
	".xml", ".json", ".rss", ".atom", ".pdf", ".zip", ".tar", ".gz",
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp",
	".css", ".js", ".woff", ".woff2", ".ttf",
	"opensearch", "sitemap", "favicon",
}

// IsNonContentURL reports whether the URL points at something other than a
// documentation page (feeds, assets, archives).
func IsNonContentURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, marker := range nonContentMarkers {
		if strings.HasSuffix(lower, marker) || strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Config holds configuration for the web crawler.
type Config struct {
	OutputDir string        // Directory for crawled .md files (default: ./crawl-output)
	Delay     time.Duration // Polite delay between fetches (default: 500ms)
	Timeout   time.Duration // Per-request timeout (default: 30s)
	UserAgent string        // User-Agent header (default: ragline-crawler/1.0)
	Logger    hclog.Logger  // Logger (optional)
}

// WebCrawler is the default same-host BFS crawler.
type WebCrawler struct {
	outputDir  string
	delay      time.Duration
	userAgent  string
	httpClient *http.Client
	logger     hclog.Logger
}

// New creates a web crawler.
func New(config Config) *WebCrawler {
	if config.OutputDir == "" {
		config.OutputDir = "./crawl-output"
	}
	if config.Delay == 0 {
		config.Delay = 500 * time.Millisecond
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "ragline-crawler/1.0"
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &WebCrawler{
		outputDir: config.OutputDir,
		delay:     config.Delay,
		userAgent: config.UserAgent,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger.Named("crawler"),
	}
}

// Crawl walks same-host links breadth-first from startURL, up to maxPages
// pages. Pages are converted to markdown and written into the output
// directory as they arrive, so a cancelled crawl keeps its partial output.
func (c *WebCrawler) Crawl(ctx context.Context, startURL string, maxPages int) (*Result, error) {
	start, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("invalid start URL %q: %w", startURL, err)
	}
	if maxPages <= 0 {
		maxPages = 1
	}

	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	queue := []string{start.String()}
	visited := map[string]bool{start.String(): true}
	result := &Result{OutputDir: c.outputDir}

	for len(queue) > 0 && len(result.Pages) < maxPages {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		pageURL := queue[0]
		queue = queue[1:]

		page, links, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			c.logger.Warn("failed to fetch page", "url", pageURL, "error", err)
			continue
		}

		if page != nil {
			if err := c.writePage(*page, len(result.Pages)); err != nil {
				c.logger.Warn("failed to write page", "url", pageURL, "error", err)
			}
			result.Pages = append(result.Pages, *page)
			c.logger.Info("crawled page",
				"url", pageURL,
				"title", page.Title,
				"pages", len(result.Pages),
			)
		}

		for _, link := range links {
			if visited[link] {
				continue
			}
			if !sameHost(start, link) || IsNonContentURL(link) {
				continue
			}
			visited[link] = true
			queue = append(queue, link)
		}

		if len(queue) > 0 && len(result.Pages) < maxPages {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(c.delay):
			}
		}
	}

	return result, nil
}

// fetchPage downloads one URL, returning the extracted page (nil when the
// page has no usable prose) and the outbound links found in the raw HTML.
func (c *WebCrawler) fetchPage(ctx context.Context, pageURL string) (*Page, []string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, nil, err
	}

	parsedURL, _ := url.Parse(pageURL)
	links := extractLinks(string(body), parsedURL)

	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		// Unreadable page, but its links may still lead somewhere useful.
		return nil, links, nil
	}

	markdown, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		return nil, links, nil
	}

	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return nil, links, nil
	}

	return &Page{
		URL:      pageURL,
		Title:    article.Title,
		Markdown: markdown,
	}, links, nil
}

// writePage persists a crawled page as a markdown file.
func (c *WebCrawler) writePage(page Page, index int) error {
	name := strcase.ToSnake(page.Title)
	if name == "" {
		name = "page"
	}
	filename := fmt.Sprintf("%03d_%s.md", index, name)

	content := fmt.Sprintf("<!-- source: %s -->\n\n%s\n", page.URL, page.Markdown)
	return os.WriteFile(filepath.Join(c.outputDir, filename), []byte(content), 0o644)
}

// extractLinks pulls href targets out of anchor tags, resolved against the
// page URL, with fragments dropped.
func extractLinks(body string, base *url.URL) []string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var links []string
	seen := map[string]bool{}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					continue
				}
				resolved := base.ResolveReference(ref)
				if resolved.Scheme != "http" && resolved.Scheme != "https" {
					continue
				}
				resolved.Fragment = ""
				link := resolved.String()
				if !seen[link] {
					seen[link] = true
					links = append(links, link)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return links
}

func sameHost(start *url.URL, link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return u.Host == start.Host
}
