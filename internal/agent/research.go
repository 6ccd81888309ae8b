package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dermabot/internal/infrastructure"

	"github.com/tmc/langchaingo/llms"
)

const (
	researchTimeout   = 15 * time.Second
	researchMaxBytes  = 1 << 20
	researchUserAgent = "dermabot/1.0"

	DefaultDuckDuckGoBase = "https://api.duckduckgo.com"
	DefaultEUtilsBase     = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
)

func queryDefinition(name, description, queryDesc string) llms.FunctionDefinition {
	return llms.FunctionDefinition{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": queryDesc},
			},
			"required": []string{"query"},
		},
	}
}

func parseQuery(arguments string) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("%w: %v", errBadArguments, err)
	}
	q := strings.TrimSpace(args.Query)
	if q == "" {
		return "", fmt.Errorf("%w: empty query", errBadArguments)
	}
	return q, nil
}

// getJSON fetches endpoint and decodes the body into out, retrying transient failures.
func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	return infrastructure.RetryWithBackoff(ctx, infrastructure.DefaultRetryConfig(), "research_get", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return infrastructure.Permanent(err)
		}
		req.Header.Set("User-Agent", researchUserAgent)

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("status %d from %s", resp.StatusCode, req.URL.Host)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return err
			}
			return infrastructure.Permanent(err)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, researchMaxBytes))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return infrastructure.Permanent(fmt.Errorf("parse response: %w", err))
		}
		return nil
	})
}

// WebSearchTool queries the DuckDuckGo Instant Answer API (no key required).
type WebSearchTool struct {
	baseURL string
	client  *http.Client
}

func NewWebSearchTool(baseURL string) *WebSearchTool {
	if baseURL == "" {
		baseURL = DefaultDuckDuckGoBase
	}
	return &WebSearchTool{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: researchTimeout},
	}
}

func (t *WebSearchTool) Definition() llms.FunctionDefinition {
	return queryDefinition("web_search",
		"Search the web for general information about a skin condition, treatment or medication.",
		"Search query to look up on the web")
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	Abstract      string     `json:"Abstract"`
	AbstractURL   string     `json:"AbstractURL"`
	Answer        string     `json:"Answer"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}

func (t *WebSearchTool) Call(ctx context.Context, arguments string) (string, error) {
	query, err := parseQuery(arguments)
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/?q=%s&format=json&no_html=1&skip_disambig=1", t.baseURL, url.QueryEscape(query))

	var ddg ddgResponse
	if err := getJSON(ctx, t.client, endpoint, &ddg); err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}

	var results []string
	if ddg.Abstract != "" {
		results = append(results, fmt.Sprintf("## %s\n%s\nSource: %s", ddg.Heading, ddg.Abstract, ddg.AbstractURL))
	}
	if ddg.Answer != "" {
		results = append(results, "Answer: "+ddg.Answer)
	}
	for i, topic := range ddg.RelatedTopics {
		if i >= 5 {
			break
		}
		if topic.Text != "" {
			results = append(results, "- "+topic.Text)
		}
	}
	if len(results) == 0 {
		return fmt.Sprintf("No instant results found for: %s. Try a more specific query.", query), nil
	}
	return strings.Join(results, "\n\n"), nil
}

// PubMedTool searches PubMed through the NCBI E-utilities (esearch, then esummary).
type PubMedTool struct {
	baseURL    string
	apiKey     string
	maxResults int
	client     *http.Client
}

func NewPubMedTool(baseURL, apiKey string, maxResults int) *PubMedTool {
	if baseURL == "" {
		baseURL = DefaultEUtilsBase
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &PubMedTool{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		maxResults: maxResults,
		client:     &http.Client{Timeout: researchTimeout},
	}
}

func (t *PubMedTool) Definition() llms.FunctionDefinition {
	return queryDefinition("search_pubmed",
		"Search PubMed for peer-reviewed dermatology literature. Returns article titles, journals and links.",
		"PubMed search terms, e.g. 'nummular eczema topical treatment'")
}

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type pubmedSummary struct {
	Title   string `json:"title"`
	Source  string `json:"source"`
	PubDate string `json:"pubdate"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
}

func (t *PubMedTool) endpoint(path string, params url.Values) string {
	params.Set("db", "pubmed")
	params.Set("retmode", "json")
	if t.apiKey != "" {
		params.Set("api_key", t.apiKey)
	}
	return t.baseURL + "/" + path + "?" + params.Encode()
}

func (t *PubMedTool) Call(ctx context.Context, arguments string) (string, error) {
	query, err := parseQuery(arguments)
	if err != nil {
		return "", err
	}

	var search esearchResponse
	searchURL := t.endpoint("esearch.fcgi", url.Values{
		"term":   {query},
		"retmax": {fmt.Sprint(t.maxResults)},
		"sort":   {"relevance"},
	})
	if err := getJSON(ctx, t.client, searchURL, &search); err != nil {
		return "", fmt.Errorf("pubmed search: %w", err)
	}
	ids := search.Result.IDList
	if len(ids) == 0 {
		return fmt.Sprintf("No PubMed articles found for: %s.", query), nil
	}

	// esummary returns {"result": {"uids": [...], "<uid>": {...}}}.
	var summary struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	summaryURL := t.endpoint("esummary.fcgi", url.Values{"id": {strings.Join(ids, ",")}})
	if err := getJSON(ctx, t.client, summaryURL, &summary); err != nil {
		return "", fmt.Errorf("pubmed summary: %w", err)
	}

	var sb strings.Builder
	n := 0
	for _, id := range ids {
		raw, ok := summary.Result[id]
		if !ok {
			continue
		}
		var s pubmedSummary
		if err := json.Unmarshal(raw, &s); err != nil || s.Title == "" {
			continue
		}
		n++
		fmt.Fprintf(&sb, "[%d] %s", n, strings.TrimSpace(s.Title))
		if len(s.Authors) > 0 {
			fmt.Fprintf(&sb, " %s", s.Authors[0].Name)
			if len(s.Authors) > 1 {
				sb.WriteString(" et al.")
			}
		}
		fmt.Fprintf(&sb, " %s %s. https://pubmed.ncbi.nlm.nih.gov/%s/\n", s.Source, s.PubDate, id)
	}
	if n == 0 {
		return fmt.Sprintf("No PubMed articles found for: %s.", query), nil
	}
	return strings.TrimSpace(sb.String()), nil
}
