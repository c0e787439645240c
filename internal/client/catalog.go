package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Showtime is the catalog service's view of one screening.
type Showtime struct {
	ID         uint64    `json:"id"`
	MovieTitle string    `json:"movie_title"`
	StartsAt   time.Time `json:"starts_at"`
	PriceCents uint32    `json:"price_cents"`
	Capacity   int       `json:"capacity"`
}

// Catalog exposes the showtime lookups the reservation workflow needs.
type Catalog interface {
	GetShowtime(ctx context.Context, id uint64) (Showtime, error)
}

// HTTPCatalog calls the movie catalog service.
type HTTPCatalog struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCatalog builds a catalog adapter against the movie service base
// URL (e.g. "http://movie-service:8000").
func NewHTTPCatalog(baseURL string) *HTTPCatalog {
	return &HTTPCatalog{baseURL: baseURL, client: newHTTPClient()}
}

func (c *HTTPCatalog) GetShowtime(ctx context.Context, id uint64) (Showtime, error) {
	url := fmt.Sprintf("%s/showtimes/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Showtime{}, fmt.Errorf("build showtime request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return Showtime{}, fmt.Errorf("showtime request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		var st Showtime
		if err := json.NewDecoder(res.Body).Decode(&st); err != nil {
			return Showtime{}, fmt.Errorf("decode showtime response: %w", err)
		}
		return st, nil
	case http.StatusNotFound:
		return Showtime{}, ErrShowtimeNotFound
	default:
		return Showtime{}, fmt.Errorf("showtime: unexpected status %d", res.StatusCode)
	}
}
