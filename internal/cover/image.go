package cover

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"aircal/internal/breaker"
)

const DefaultPicsumEndpoint = "https://picsum.photos"

// Seed hashes keywords in the given order. The same keywords in another
// order produce a different seed.
func Seed(keywords []string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.Join(keywords, ",")))
	return fmt.Sprintf("%08x", h.Sum32())
}

// ImageSource returns an image URL for a seed. Equal seeds must always map
// to the same image.
type ImageSource interface {
	ImageFor(ctx context.Context, seed string, width, height int) (string, error)
}

// Picsum builds seeded picsum.photos URLs. With Resolve set it asks the
// endpoint for the redirect target so clients get the final image URL.
type Picsum struct {
	endpoint string
	resolve  bool
	client   *http.Client
	cb       *gobreaker.CircuitBreaker[string]
}

func NewPicsum(endpoint string, resolve bool, timeout time.Duration) *Picsum {
	if endpoint == "" {
		endpoint = DefaultPicsumEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Picsum{
		endpoint: strings.TrimRight(endpoint, "/"),
		resolve:  resolve,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cb: breaker.New[string]("picsum", breaker.Settings{}),
	}
}

// SeedURL is the URL for seed without contacting the endpoint.
func (p *Picsum) SeedURL(seed string, width, height int) string {
	return fmt.Sprintf("%s/seed/%s/%d/%d", p.endpoint, url.PathEscape(seed), width, height)
}

func (p *Picsum) ImageFor(ctx context.Context, seed string, width, height int) (string, error) {
	u := p.SeedURL(seed, width, height)
	if !p.resolve {
		return u, nil
	}
	return p.cb.Execute(func() (string, error) {
		return p.follow(ctx, u)
	})
}

func (p *Picsum) follow(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build image request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("image request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		loc, err := resp.Location()
		if err != nil {
			return "", fmt.Errorf("image redirect: %w", err)
		}
		return loc.String(), nil
	case resp.StatusCode == http.StatusOK:
		return u, nil
	default:
		return "", errors.New("image request: unexpected status " + resp.Status)
	}
}
