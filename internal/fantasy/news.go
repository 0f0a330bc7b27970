package fantasy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultNewsURL       = "https://api.tavily.com/search"
	defaultSearchResults = 5
)

// ErrSearchUnavailable is returned by Search when no API key is configured.
var ErrSearchUnavailable = errors.New("web search is not configured")

// Article is one news search hit.
type Article struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// NewsConfig configures the player news search.
type NewsConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxResults int
}

// News searches recent player news through the Tavily search API. Without
// an API key it returns links to the usual player pages instead.
type News struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
}

// NewNews creates a news searcher.
func NewNews(cfg NewsConfig) *News {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultNewsURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	return &News{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		maxResults: cfg.MaxResults,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// PlayerNews returns recent articles about a player. topic narrows the
// query, e.g. "injury status update".
func (n *News) PlayerNews(ctx context.Context, player, topic string, limit int) ([]Article, error) {
	player = strings.TrimSpace(player)
	if player == "" {
		return nil, fmt.Errorf("player name is required")
	}
	if limit <= 0 || limit > 10 {
		limit = n.maxResults
	}
	if n.apiKey == "" {
		return fallbackArticles(player), nil
	}

	query := strings.TrimSpace(player + " NFL fantasy football " + topic)
	return n.search(ctx, query, "news", limit)
}

// Search runs a general web search. It needs an API key.
func (n *News) Search(ctx context.Context, query string, limit int) ([]Article, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if n.apiKey == "" {
		return nil, ErrSearchUnavailable
	}
	if limit <= 0 || limit > 10 {
		limit = defaultSearchResults
	}
	return n.search(ctx, query, "general", limit)
}

func (n *News) search(ctx context.Context, query, topic string, limit int) ([]Article, error) {
	payload, err := json.Marshal(map[string]any{
		"api_key":             n.apiKey,
		"query":               query,
		"search_depth":        "basic",
		"max_results":         limit,
		"include_answer":      false,
		"include_raw_content": false,
		"topic":               topic,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	articles := make([]Article, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		articles = append(articles, Article{Title: r.Title, URL: r.URL, Snippet: r.Content, Score: r.Score})
	}
	return articles, nil
}

func fallbackArticles(player string) []Article {
	slug := strings.ToLower(strings.Join(strings.Fields(player), "-"))
	return []Article{
		{
			Title:   player + " player page (ESPN)",
			URL:     "https://www.espn.com/search/_/q/" + url.PathEscape(player),
			Snippet: "News search is not configured; check the player page for updates.",
		},
		{
			Title: player + " news (FantasyPros)",
			URL:   "https://www.fantasypros.com/nfl/players/" + slug + ".php",
		},
	}
}
