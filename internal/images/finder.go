// Package images looks up illustrative images for slides.
package images

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// ErrNoImage means the provider answered but had nothing usable.
var ErrNoImage = errors.New("images: no image found")

type Image struct {
	URL    string `json:"url"`
	Source string `json:"source"`
	Title  string `json:"title,omitempty"`
}

// Finder is the image lookup capability.
type Finder interface {
	FindImage(ctx context.Context, query string) (*Image, error)
}

type WikimediaConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	UserAgent  string
	// Candidates is how many search hits are inspected per query.
	Candidates int
}

func (c WikimediaConfig) withDefaults() WikimediaConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://commons.wikimedia.org"
	}
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.UserAgent == "" {
		c.UserAgent = "slidegate/1.0 (lesson image lookup)"
	}
	if c.Candidates <= 0 {
		c.Candidates = 8
	}
	return c
}

// WikimediaFinder searches the File namespace of Wikimedia Commons.
type WikimediaFinder struct {
	client     *resty.Client
	limiter    *rate.Limiter
	candidates int
}

func NewWikimediaFinder(cfg WikimediaConfig) *WikimediaFinder {
	cfg = cfg.withDefaults()

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	return &WikimediaFinder{
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		candidates: cfg.Candidates,
	}
}

type commonsResponse struct {
	Query struct {
		Pages map[string]commonsPage `json:"pages"`
	} `json:"query"`
}

type commonsPage struct {
	Title     string `json:"title"`
	Index     int    `json:"index"`
	ImageInfo []struct {
		URL      string `json:"url"`
		ThumbURL string `json:"thumburl"`
		Mime     string `json:"mime"`
	} `json:"imageinfo"`
}

func (f *WikimediaFinder) FindImage(ctx context.Context, query string) (*Image, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNoImage
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("images: rate limit: %w", err)
	}

	var out commonsResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"action":       "query",
			"format":       "json",
			"generator":    "search",
			"gsrsearch":    query,
			"gsrnamespace": "6",
			"gsrlimit":     fmt.Sprint(f.candidates),
			"prop":         "imageinfo",
			"iiprop":       "url|mime",
			"iiurlwidth":   "800",
		}).
		SetResult(&out).
		Get("/w/api.php")
	if err != nil {
		return nil, fmt.Errorf("images: wikimedia request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("images: wikimedia status %d", resp.StatusCode())
	}

	return pickImage(out.Query.Pages)
}

// pickImage returns the best-ranked hit that is an actual raster or vector
// image rather than a scanned document.
func pickImage(pages map[string]commonsPage) (*Image, error) {
	ranked := make([]commonsPage, 0, len(pages))
	for _, p := range pages {
		ranked = append(ranked, p)
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Index < ranked[j].Index })

	for _, p := range ranked {
		for _, info := range p.ImageInfo {
			if !strings.HasPrefix(info.Mime, "image/") {
				continue
			}
			url := info.ThumbURL
			if url == "" {
				url = info.URL
			}
			if url == "" {
				continue
			}
			return &Image{
				URL:    url,
				Source: "wikimedia",
				Title:  strings.TrimPrefix(p.Title, "File:"),
			}, nil
		}
	}
	return nil, ErrNoImage
}
