package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mikeboe/research-orchestrator/pkg/research"
)

const arxivAPI = "https://export.arxiv.org/api/query"

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
	Rel  string `xml:"rel,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// ArxivSearcher serves the search backend from the arXiv API. The API asks
// clients to keep one request every three seconds, which the limiter enforces
// across all concurrent queries of a run.
type ArxivSearcher struct {
	BaseURL    string
	MaxResults int
	Client     *http.Client
	Logger     *slog.Logger

	limiter *rate.Limiter
}

func NewArxivSearcher(maxResults int, interval time.Duration) *ArxivSearcher {
	if maxResults <= 0 {
		maxResults = 5
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &ArxivSearcher{
		BaseURL:    arxivAPI,
		MaxResults: maxResults,
		Client:     &http.Client{Timeout: 30 * time.Second},
		Logger:     slog.Default(),
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
	}
}

func (a *ArxivSearcher) Search(ctx context.Context, query string) (research.SearchResponse, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return research.SearchResponse{}, err
		}
	}

	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(a.MaxResults))
	params.Add("start", "0")
	apiURL := a.BaseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return research.SearchResponse{}, fmt.Errorf("failed to build arXiv request: %w", err)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return research.SearchResponse{}, &research.TransientBackendError{Backend: "search", Err: err}
	}
	defer resp.Body.Close()

	a.Logger.Debug("arXiv request made", "url", apiURL, "status", resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return research.SearchResponse{}, &research.TransientBackendError{Backend: "search", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("arXiv returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return research.SearchResponse{}, &research.TransientBackendError{Backend: "search", Err: statusErr}
		}
		return research.SearchResponse{}, &research.MalformedResponseError{Backend: "search", Reason: "unexpected status", Err: statusErr}
	}

	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return research.SearchResponse{}, &research.MalformedResponseError{Backend: "search", Reason: "invalid feed", Err: err}
	}

	return research.SearchResponse{
		Sources: feed.Sources(),
		Text:    feed.Digest(query),
	}, nil
}

// Sources converts the feed into ranked sources. arXiv returns entries by
// relevance, so the score decays with the rank.
func (f ArxivFeed) Sources() []research.Source {
	sources := make([]research.Source, 0, len(f.Entry))
	for i, entry := range f.Entry {
		link := entry.AbsLink()
		if link == "" {
			continue
		}
		sources = append(sources, research.Source{
			URL:            link,
			Title:          collapseSpace(entry.Title),
			Snippet:        truncate(collapseSpace(entry.Summary), 500),
			RelevanceScore: max(1.0-0.1*float64(i), 0.1),
		})
	}
	return sources
}

// Digest renders the feed as the research snippet of a query.
func (f ArxivFeed) Digest(query string) string {
	if len(f.Entry) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("arXiv results for %q:\n\n", query))
	for _, entry := range f.Entry {
		sb.WriteString(fmt.Sprintf("# Title: %s\n", collapseSpace(entry.Title)))
		sb.WriteString(fmt.Sprintf("## Summary: %s\n", collapseSpace(entry.Summary)))
		sb.WriteString(fmt.Sprintf("## Published: %s\n", entry.Published))
		if pdf := entry.PDFLink(); pdf != "" {
			sb.WriteString(fmt.Sprintf("## PDF Link: %s\n", pdf))
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// AbsLink is the abstract page of the entry, falling back to its id.
func (e ArxivEntry) AbsLink() string {
	for _, link := range e.Link {
		if link.Rel == "alternate" && link.Href != "" {
			return link.Href
		}
	}
	return strings.TrimSpace(e.ID)
}

func (e ArxivEntry) PDFLink() string {
	for _, link := range e.Link {
		if link.Type == "application/pdf" {
			return link.Href
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
