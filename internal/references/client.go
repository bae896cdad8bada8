// Package references fetches KB article and JIRA issue metadata for the
// relevance analyzer. Lookups never fail a case: errors are logged and the
// affected keys yield no candidates.
package references

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/case-review/backend/internal/htmltext"
	"github.com/case-review/backend/internal/metrics"
	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/pkg/circuitbreaker"
	"github.com/case-review/backend/pkg/logger"
	"github.com/case-review/backend/pkg/retry"
	"github.com/case-review/backend/pkg/utils"
)

const (
	SourceKB   = "kb"
	SourceJIRA = "jira"

	summaryLimit = 1000
)

// Cache is the subset of the redis client used for lookups.
type Cache interface {
	GetReferences(ctx context.Context, source, keysHash string) ([]models.Candidate, bool, error)
	SetReferences(ctx context.Context, source, keysHash string, candidates []models.Candidate, ttl time.Duration) error
}

type Config struct {
	KBBaseURL   string
	KBToken     string
	JiraBaseURL string
	JiraToken   string
	Timeout     time.Duration
	CacheTTL    time.Duration
}

type Client struct {
	cfg         Config
	httpClient  *http.Client
	cache       Cache
	retry       retry.Config
	kbBreaker   *circuitbreaker.Breaker
	jiraBreaker *circuitbreaker.Breaker
}

type statusError struct {
	url    string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.url, e.status)
}

// NewClient builds a reference client. cache may be nil.
func NewClient(cfg Config, cache Cache) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = logger.Named("references")
	retryCfg.ShouldRetry = func(err error) bool {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return false
		}
		var se *statusError
		if errors.As(err, &se) {
			return se.status >= 500 || se.status == http.StatusTooManyRequests
		}
		return true
	}

	breakerCfg := circuitbreaker.Config{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		Logger:           logger.Named("references"),
	}

	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		cache:       cache,
		retry:       retryCfg,
		kbBreaker:   circuitbreaker.New("kb", breakerCfg),
		jiraBreaker: circuitbreaker.New("jira", breakerCfg),
	}
}

// FetchKB returns candidates for the referenced KB articles.
func (c *Client) FetchKB(ctx context.Context, keys []string) []models.Candidate {
	if c.cfg.KBBaseURL == "" {
		logger.Debug("KB base URL not configured, skipping lookup")
		return nil
	}
	return c.fetch(ctx, SourceKB, keys, c.kbBreaker, c.fetchKBArticle)
}

// FetchJIRA returns candidates for the linked JIRA issues.
func (c *Client) FetchJIRA(ctx context.Context, keys []string) []models.Candidate {
	if c.cfg.JiraBaseURL == "" {
		logger.Debug("JIRA base URL not configured, skipping lookup")
		return nil
	}
	return c.fetch(ctx, SourceJIRA, keys, c.jiraBreaker, c.fetchJiraIssue)
}

func (c *Client) fetch(
	ctx context.Context,
	source string,
	keys []string,
	breaker *circuitbreaker.Breaker,
	one func(context.Context, string) (models.Candidate, error),
) []models.Candidate {
	keys = uniqueKeys(keys)
	if len(keys) == 0 {
		return nil
	}

	hash := utils.HashKeys(keys)
	if c.cache != nil {
		cached, ok, err := c.cache.GetReferences(ctx, source, hash)
		if err != nil {
			logger.Warn("Reference cache read failed", zap.String("source", source), zap.Error(err))
		} else if ok {
			return cached
		}
	}

	candidates := make([]models.Candidate, 0, len(keys))
	failed := 0
	for _, key := range keys {
		candidate, err := retry.DoWithResult(ctx, c.retry, func() (models.Candidate, error) {
			var cand models.Candidate
			err := breaker.Execute(func() error {
				var err error
				cand, err = one(ctx, key)
				return err
			})
			return cand, err
		})
		if err != nil {
			metrics.ReferenceFetchErrors.WithLabelValues(source).Inc()
			logger.Warn("Reference lookup failed",
				zap.String("source", source),
				zap.String("key", key),
				zap.Error(err),
			)
			failed++
			continue
		}
		candidates = append(candidates, candidate)
	}

	// A partial result is cached under the full key set's hash, so it is only
	// stored once every key resolved.
	if c.cache != nil && failed == 0 {
		if err := c.cache.SetReferences(ctx, source, hash, candidates, c.cfg.CacheTTL); err != nil {
			logger.Warn("Reference cache write failed", zap.String("source", source), zap.Error(err))
		}
	}

	logger.Debug("References fetched",
		zap.String("source", source),
		zap.Int("requested", len(keys)),
		zap.Int("found", len(candidates)),
		zap.Int("failed", failed),
	)
	return candidates
}

func (c *Client) get(ctx context.Context, endpoint, token, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &statusError{url: endpoint, status: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) fetchKBArticle(ctx context.Context, key string) (models.Candidate, error) {
	endpoint := strings.TrimRight(c.cfg.KBBaseURL, "/") + "/" + url.PathEscape(key)

	resp, err := c.get(ctx, endpoint, c.cfg.KBToken, "text/html")
	if err != nil {
		return models.Candidate{}, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return models.Candidate{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, footer, header").Remove()

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	summary, _ := doc.Find(`meta[name="description"]`).Attr("content")
	summary = strings.TrimSpace(summary)
	if summary == "" {
		if sel := doc.Find(".kb-summary, article, main").First(); sel.Length() > 0 {
			html, _ := sel.Html()
			summary = htmltext.FromHTML(html)
		} else {
			summary = htmltext.ToText(doc.Find("body").Text())
		}
	}
	summary, _ = htmltext.Truncate(summary, summaryLimit)

	return models.Candidate{
		Key:     key,
		Title:   title,
		Summary: summary,
		URL:     endpoint,
	}, nil
}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description json.RawMessage `json:"description"`
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
	} `json:"fields"`
}

func (c *Client) fetchJiraIssue(ctx context.Context, key string) (models.Candidate, error) {
	base := strings.TrimRight(c.cfg.JiraBaseURL, "/")
	endpoint := fmt.Sprintf("%s/rest/api/2/issue/%s?fields=summary,description,status", base, url.PathEscape(key))

	resp, err := c.get(ctx, endpoint, c.cfg.JiraToken, "application/json")
	if err != nil {
		return models.Candidate{}, err
	}
	defer resp.Body.Close()

	var issue jiraIssue
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return models.Candidate{}, fmt.Errorf("failed to decode issue %s: %w", key, err)
	}

	if issue.Key == "" {
		issue.Key = key
	}

	summary, _ := htmltext.Truncate(htmltext.ToText(descriptionText(issue.Fields.Description)), summaryLimit)

	return models.Candidate{
		Key:     issue.Key,
		Title:   issue.Fields.Summary,
		Summary: summary,
		Status:  issue.Fields.Status.Name,
		URL:     base + "/browse/" + issue.Key,
	}, nil
}

// descriptionText accepts both plain string descriptions and the
// document format, from which it keeps the text nodes.
func descriptionText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return ""
	}
	var parts []string
	collectText(node, &parts)
	return strings.Join(parts, " ")
}

func collectText(node any, parts *[]string) {
	switch v := node.(type) {
	case map[string]any:
		if text, ok := v["text"].(string); ok {
			*parts = append(*parts, text)
		}
		if content, ok := v["content"]; ok {
			collectText(content, parts)
		}
	case []any:
		for _, child := range v {
			collectText(child, parts)
		}
	}
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[strings.ToUpper(k)] {
			continue
		}
		seen[strings.ToUpper(k)] = true
		out = append(out, k)
	}
	return out
}
