package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"

	"github.com/user/feedlane/internal/types"
)

const maxArticleChars = 50000

var mdLink = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)`)

// ArticleReader fetches HTML pages and converts them to markdown. With a
// LinkPrefix, the page is treated as an index and the first link starting
// with the prefix is followed to the article itself.
type ArticleReader struct {
	LinkPrefix string
	client     *http.Client
}

// NewArticleReader creates an ArticleReader.
func NewArticleReader(linkPrefix string) *ArticleReader {
	return &ArticleReader{
		LinkPrefix: linkPrefix,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Read returns the article at pageURL, or the newest article linked from it.
func (r *ArticleReader) Read(ctx context.Context, pageURL string) (*types.Article, error) {
	md, err := r.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if r.LinkPrefix == "" {
		return &types.Article{URL: pageURL, Title: firstHeading(md), Markdown: md}, nil
	}

	link := firstLink(md, r.LinkPrefix)
	if link == "" {
		return nil, fmt.Errorf("no article link with prefix %s on %s", r.LinkPrefix, pageURL)
	}
	article, err := r.fetch(ctx, link)
	if err != nil {
		return nil, err
	}
	return &types.Article{URL: link, Title: firstHeading(article), Markdown: article}, nil
}

func (r *ArticleReader) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Feedlane/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	domain := resp.Request.URL.Scheme + "://" + resp.Request.URL.Host
	md, err := htmltomarkdown.ConvertString(string(body), converter.WithDomain(domain))
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	if len(md) > maxArticleChars {
		md = md[:maxArticleChars]
	}
	return md, nil
}

func firstHeading(md string) string {
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return ""
}

func firstLink(md, prefix string) string {
	for _, m := range mdLink.FindAllStringSubmatch(md, -1) {
		if strings.HasPrefix(m[2], prefix) {
			return m[2]
		}
	}
	return ""
}
