// Package news fetches recent headlines for prediction markets from Google
// News RSS. Results feed the news sub-signal; fetch failures are treated as
// "signal unavailable", never as fatal errors.
package news

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/url"
	"strings"
	"time"

	"polytrader/internal/domain"
)

// --- HTTP client ---

var httpClient = &http.Client{Timeout: 10 * time.Second}

// --- Google News RSS ---

type rssResponse struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	PubDate string `xml:"pubDate"`
	Desc    string `xml:"description"`
}

// FetchGoogleNews fetches headlines matching the given query (typically the
// market question's key terms) published within [start, end].
func FetchGoogleNews(ctx context.Context, query string, start, end time.Time) ([]domain.NewsItem, error) {
	q := url.QueryEscape(query)
	u := "https://news.google.com/rss/search?q=" + q + "&hl=en-US&gl=US&ceid=US:en"

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rss rssResponse
	if err := xml.NewDecoder(resp.Body).Decode(&rss); err != nil {
		return nil, err
	}

	var items []domain.NewsItem
	for _, item := range rss.Channel.Items {
		t, err := time.Parse(time.RFC1123Z, item.PubDate)
		if err != nil {
			t, err = time.Parse(time.RFC1123, item.PubDate)
			if err != nil {
				continue
			}
		}
		if t.Before(start) || t.After(end) {
			continue
		}
		headline := item.Title
		if idx := strings.LastIndex(headline, " - "); idx > 0 {
			headline = headline[:idx]
		}
		items = append(items, domain.NewsItem{
			Time:     t,
			Source:   "google",
			Headline: headline,
		})
	}
	return items, nil
}

// QueryFromQuestion reduces a market question to a search query: strips the
// interrogative boilerplate and keeps the distinctive terms.
func QueryFromQuestion(question string) string {
	q := strings.TrimSuffix(strings.TrimSpace(question), "?")
	for _, prefix := range []string{"Will ", "Who will ", "What will ", "When will "} {
		q = strings.TrimPrefix(q, prefix)
	}
	words := strings.Fields(q)
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}
