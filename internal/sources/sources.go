// Package sources implements the branches.SourceLookup and branches.WebLookup
// collaborators against real external evidence providers: arXiv, PubMed, and
// a generic web search endpoint. Grounded on internal/adapter/http.go's
// bounded-timeout HTTP client shape.
package sources

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/yggdrasil-ai/yggdrasil/internal/branches"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
)

// DefaultTimeout bounds a single outbound lookup call.
const DefaultTimeout = 10 * time.Second

// ArxivLookup queries the arXiv Atom export API and returns validated-provider
// sources (trustScore=100, the bar MIMIR requires per spec §4.2).
type ArxivLookup struct {
	baseURL    string
	httpClient *http.Client
}

// NewArxivLookup constructs an ArxivLookup. baseURL defaults to the public
// arXiv export endpoint when empty.
func NewArxivLookup(baseURL string) *ArxivLookup {
	if baseURL == "" {
		baseURL = "http://export.arxiv.org/api/query"
	}
	return &ArxivLookup{baseURL: baseURL, httpClient: &http.Client{Timeout: DefaultTimeout}}
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string      `xml:"title"`
	ID        string      `xml:"id"`
	Published string      `xml:"published"`
	Authors   []atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

// Find implements branches.SourceLookup.
func (a *ArxivLookup) Find(ctx context.Context, query string) ([]domain.Source, error) {
	u := fmt.Sprintf("%s?search_query=all:%s&max_results=5", a.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("sources: arxiv: build request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sources: arxiv: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sources: arxiv: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sources: arxiv: read response: %w", err)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("sources: arxiv: parse response: %w", err)
	}

	out := make([]domain.Source, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		authors := make([]string, 0, len(e.Authors))
		for _, au := range e.Authors {
			authors = append(authors, au.Name)
		}
		retrievedAt := time.Now().UTC()
		if t, err := time.Parse(time.RFC3339, e.Published); err == nil {
			retrievedAt = t
		}
		out = append(out, domain.Source{
			ID:          uuid.New(),
			Type:        domain.SourceArxiv,
			Identifier:  e.ID,
			URL:         e.ID,
			Title:       e.Title,
			Authors:     authors,
			TrustScore:  domain.MinMimirTrustScore,
			RetrievedAt: retrievedAt,
		})
	}
	return out, nil
}

// PubMedLookup queries the NCBI E-utilities ESearch/ESummary endpoints and
// returns validated-provider sources.
type PubMedLookup struct {
	searchURL  string
	summaryURL string
	httpClient *http.Client
}

// NewPubMedLookup constructs a PubMedLookup against the public NCBI API.
func NewPubMedLookup() *PubMedLookup {
	return &PubMedLookup{
		searchURL:  "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi",
		summaryURL: "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esummary.fcgi",
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

type esearchResult struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryResult struct {
	Result map[string]json.RawMessage `json:"result"`
}

type esummaryDoc struct {
	Title   string   `json:"title"`
	PubDate string   `json:"pubdate"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
}

// Find implements branches.SourceLookup.
func (p *PubMedLookup) Find(ctx context.Context, query string) ([]domain.Source, error) {
	ids, err := p.search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return p.summarize(ctx, ids)
}

func (p *PubMedLookup) search(ctx context.Context, query string) ([]string, error) {
	u := fmt.Sprintf("%s?db=pubmed&retmode=json&retmax=5&term=%s", p.searchURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("sources: pubmed search: build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sources: pubmed search: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sources: pubmed search: status %d", resp.StatusCode)
	}
	var result esearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("sources: pubmed search: decode response: %w", err)
	}
	return result.ESearchResult.IDList, nil
}

func (p *PubMedLookup) summarize(ctx context.Context, ids []string) ([]domain.Source, error) {
	u := fmt.Sprintf("%s?db=pubmed&retmode=json&id=%s", p.summaryURL, url.QueryEscape(joinIDs(ids)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("sources: pubmed summary: build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sources: pubmed summary: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sources: pubmed summary: status %d", resp.StatusCode)
	}
	var result esummaryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("sources: pubmed summary: decode response: %w", err)
	}

	out := make([]domain.Source, 0, len(ids))
	for _, id := range ids {
		raw, ok := result.Result[id]
		if !ok {
			continue
		}
		var doc esummaryDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		authors := make([]string, 0, len(doc.Authors))
		for _, au := range doc.Authors {
			authors = append(authors, au.Name)
		}
		out = append(out, domain.Source{
			ID:          uuid.New(),
			Type:        domain.SourcePubMed,
			Identifier:  id,
			URL:         "https://pubmed.ncbi.nlm.nih.gov/" + id,
			Title:       doc.Title,
			Authors:     authors,
			TrustScore:  domain.MinMimirTrustScore,
			RetrievedAt: time.Now().UTC(),
		})
	}
	return out, nil
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}

// AggregateLookup combines ArxivLookup and PubMedLookup so a single
// branches.SourceLookup serves both MIMIR (validated providers) and VOLVA
// (moderate-confidence sourced evidence, derated below MinMimirTrustScore).
type AggregateLookup struct {
	arxiv      *ArxivLookup
	pubmed     *PubMedLookup
	volvaTrust int
}

// NewAggregateLookup constructs an AggregateLookup. volvaTrust is the trust
// score attached to the VOLVA-facing view of these sources (see
// VolvaLookup), distinct from the trustScore=100 MIMIR requires.
func NewAggregateLookup(arxiv *ArxivLookup, pubmed *PubMedLookup, volvaTrust int) *AggregateLookup {
	return &AggregateLookup{arxiv: arxiv, pubmed: pubmed, volvaTrust: volvaTrust}
}

// Find implements branches.SourceLookup, returning the union of both
// providers' results unmodified (MIMIR-facing: trustScore=100).
func (a *AggregateLookup) Find(ctx context.Context, query string) ([]domain.Source, error) {
	var out []domain.Source
	if a.arxiv != nil {
		s, err := a.arxiv.Find(ctx, query)
		if err != nil {
			return nil, err
		}
		out = append(out, s...)
	}
	if a.pubmed != nil {
		s, err := a.pubmed.Find(ctx, query)
		if err != nil {
			return nil, err
		}
		out = append(out, s...)
	}
	return out, nil
}

// VolvaLookup wraps an AggregateLookup and derates its trust scores to the
// moderate-confidence band VOLVA consumes, so the same providers can back
// both branches without MIMIR's stricter sources leaking an inflated trust
// score into VOLVA's average.
type VolvaLookup struct {
	inner *AggregateLookup
}

// NewVolvaLookup constructs a VolvaLookup over an existing AggregateLookup.
func NewVolvaLookup(inner *AggregateLookup) *VolvaLookup {
	return &VolvaLookup{inner: inner}
}

// Find implements branches.SourceLookup.
func (v *VolvaLookup) Find(ctx context.Context, query string) ([]domain.Source, error) {
	sources, err := v.inner.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Source, len(sources))
	for i, s := range sources {
		s.TrustScore = v.inner.volvaTrust
		out[i] = s
	}
	return out, nil
}

var _ branches.SourceLookup = (*ArxivLookup)(nil)
var _ branches.SourceLookup = (*PubMedLookup)(nil)
var _ branches.SourceLookup = (*AggregateLookup)(nil)
var _ branches.SourceLookup = (*VolvaLookup)(nil)

// WebSearchLookup queries a configurable web search API (e.g. a
// SearXNG/Bing-compatible JSON endpoint) and returns raw page bodies for
// HUGIN to run through the disinformation filter. An empty endpoint makes
// FindWeb a no-op, matching spec §4.4's degraded-operation tolerance for an
// unconfigured collaborator.
type WebSearchLookup struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewWebSearchLookup constructs a WebSearchLookup.
func NewWebSearchLookup(endpoint, apiKey string) *WebSearchLookup {
	return &WebSearchLookup{endpoint: endpoint, apiKey: apiKey, httpClient: &http.Client{Timeout: DefaultTimeout}}
}

type webSearchResult struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

// FindWeb implements branches.WebLookup.
func (w *WebSearchLookup) FindWeb(ctx context.Context, query string) ([]branches.WebResult, error) {
	if w.endpoint == "" {
		return nil, nil
	}

	u := fmt.Sprintf("%s?q=%s", w.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("sources: web search: build request: %w", err)
	}
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sources: web search: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sources: web search: status %d", resp.StatusCode)
	}

	var result webSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("sources: web search: decode response: %w", err)
	}

	out := make([]branches.WebResult, 0, len(result.Results))
	for _, r := range result.Results {
		out = append(out, branches.WebResult{
			Source: domain.Source{
				ID:          uuid.New(),
				Type:        domain.SourceWeb,
				Identifier:  r.URL,
				URL:         r.URL,
				Title:       r.Title,
				TrustScore:  0,
				RetrievedAt: time.Now().UTC(),
			},
			Content: r.Content,
		})
	}
	return out, nil
}

var _ branches.WebLookup = (*WebSearchLookup)(nil)
