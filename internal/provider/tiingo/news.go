package tiingo

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketpulse/internal/market"
)

const defaultNewsSort = "publishedDate"

type newsArticle struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	URL           string    `json:"url"`
	Description   string    `json:"description"`
	PublishedDate time.Time `json:"publishedDate"`
	Source        string    `json:"source"`
	Tickers       []string  `json:"tickers"`
	Tags          []string  `json:"tags"`
	ImageURL      string    `json:"imageUrl"`
}

// tag fragments promoted to article categories
var newsCategories = []string{"earnings", "market", "economy", "finance", "tech", "crypto"}

// FetchNews queries the news endpoint. An unknown filter yields no articles.
func (c *Client) FetchNews(ctx context.Context, q market.NewsQuery) ([]market.NewsArticle, error) {
	query := url.Values{}
	if len(q.Tickers) > 0 {
		tickers := make([]string, 0, len(q.Tickers))
		for _, t := range q.Tickers {
			tickers = append(tickers, strings.ToLower(CleanSymbol(t)))
		}
		query.Set("tickers", strings.Join(tickers, ","))
	}
	if len(q.Tags) > 0 {
		query.Set("tags", strings.Join(q.Tags, ","))
	}
	if q.Source != "" {
		query.Set("source", q.Source)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		query.Set("offset", strconv.Itoa(q.Offset))
	}
	sort := q.Sort
	if sort == "" {
		sort = defaultNewsSort
	}
	query.Set("sortBy", sort)

	var articles []newsArticle
	found, err := c.getJSON(ctx, "/tiingo/news", query, &articles)
	if err != nil {
		return nil, err
	}
	if !found {
		return []market.NewsArticle{}, nil
	}

	out := make([]market.NewsArticle, 0, len(articles))
	for _, a := range articles {
		out = append(out, convertArticle(a))
	}
	return out, nil
}

func convertArticle(a newsArticle) market.NewsArticle {
	tags := make([]string, 0, len(a.Tickers)+len(a.Tags))
	for _, t := range a.Tickers {
		tags = append(tags, strings.ToUpper(t))
	}
	tags = append(tags, a.Tags...)

	categories := []string{}
	for _, tag := range a.Tags {
		lower := strings.ToLower(tag)
		for _, frag := range newsCategories {
			if strings.Contains(lower, frag) {
				categories = append(categories, tag)
				break
			}
		}
	}

	return market.NewsArticle{
		Title:         a.Title,
		Description:   a.Description,
		URL:           a.URL,
		Source:        a.Source,
		PublishedDate: a.PublishedDate,
		Tags:          tags,
		ImageURL:      a.ImageURL,
		Categories:    categories,
	}
}
