package market

import "time"

// NewsArticle is one article from the news feed.
type NewsArticle struct {
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	URL           string    `json:"url"`
	Source        string    `json:"source"`
	PublishedDate time.Time `json:"publishedDate"`
	Tags          []string  `json:"tags"`
	ImageURL      string    `json:"imageUrl,omitempty"`
	Categories    []string  `json:"categories"`
}

// NewsQuery filters the news feed. Zero fields are not sent upstream.
type NewsQuery struct {
	Tickers []string
	Tags    []string
	Source  string
	Limit   int
	Offset  int
	Sort    string
}
