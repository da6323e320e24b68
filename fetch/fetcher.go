// Package fetch implements the conditional two-step download of the daily
// strip: fetch the homepage, find the image URL, fetch the image.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/robertmeta/strip-cli/model"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultHomepageURL    = "https://dilbert.com/"
	DefaultConnectTimeout = 20 * time.Second
	DefaultReadTimeout    = 5 * time.Second

	// DefaultRequestsPerSecond paces outbound requests; a fetch makes two.
	DefaultRequestsPerSecond = 0.5
	DefaultBurst             = 2

	// MaxImageBytes caps the size of a downloaded strip.
	MaxImageBytes = 10 << 20

	etagGzipSuffix = "-gzip"
)

// Options configures a Fetcher. Zero values select the defaults above.
type Options struct {
	HomepageURL       string
	Locator           ImageLocator
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
	HTTPClient        *http.Client
	Logger            zerolog.Logger
	Now               func() time.Time
}

// Outcome is the result of a successful protocol run. Kind is either
// model.OutcomeNewStrip, with Strip set, or model.OutcomeNotModified.
type Outcome struct {
	Kind  model.Outcome
	Strip *model.Strip
}

// Fetcher runs the strip download protocol against one site.
type Fetcher struct {
	homepage  *url.URL
	locator   ImageLocator
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    zerolog.Logger
	now       func() time.Time
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts Options) (*Fetcher, error) {
	if opts.HomepageURL == "" {
		opts.HomepageURL = DefaultHomepageURL
	}
	homepage, err := url.Parse(opts.HomepageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid homepage URL %q: %w", opts.HomepageURL, err)
	}
	if homepage.Scheme != "http" && homepage.Scheme != "https" {
		return nil, fmt.Errorf("homepage URL %q must be http or https", opts.HomepageURL)
	}

	if opts.Locator == nil {
		locator, err := NewRegexpLocator(DefaultImageURLPattern)
		if err != nil {
			return nil, err
		}
		opts.Locator = locator
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = newHTTPClient(opts.ConnectTimeout, opts.ReadTimeout)
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Fetcher{
		homepage:  homepage,
		locator:   opts.Locator,
		client:    opts.HTTPClient,
		limiter:   rate.NewLimiter(limit, opts.Burst),
		userAgent: opts.UserAgent,
		logger:    opts.Logger.With().Str("module", "Fetcher").Logger(),
		now:       opts.Now,
	}, nil
}

// NormalizeETag strips the compression suffix some servers append to an ETag
// when the response was gzip encoded; the suffixed form is not accepted back
// in If-None-Match.
func NormalizeETag(tag string) string {
	return strings.ReplaceAll(tag, etagGzipSuffix, "")
}

// FetchStrip downloads the current strip unless the homepage is unchanged
// since previousToken. An empty previousToken forces a full download.
func (f *Fetcher) FetchStrip(ctx context.Context, previousToken string) (Outcome, error) {
	homepageURL := f.homepage.String()
	f.logger.Info().Str("previous_etag", previousToken).Msg("Looking for strip from a homepage with a different ETag")

	req, err := f.newRequest(ctx, homepageURL)
	if err != nil {
		return Outcome{}, err
	}
	if previousToken != "" {
		req.Header.Set("If-None-Match", previousToken)
	}

	resp, err := f.do(req)
	if err != nil {
		return Outcome{}, err
	}
	defer resp.Body.Close()

	f.logger.Debug().Str("url", homepageURL).Int("status", resp.StatusCode).Msg("Homepage response")

	switch resp.StatusCode {
	case http.StatusNotModified:
		f.logger.Info().Str("etag", previousToken).Msg("Homepage not modified")
		return Outcome{Kind: model.OutcomeNotModified}, nil
	case http.StatusOK:
	default:
		return Outcome{}, statusError(homepageURL, resp.StatusCode)
	}

	imageURL, err := f.locator.Locate(resp.Request.URL, resp.Body)
	if err != nil {
		return Outcome{}, err
	}

	token := NormalizeETag(resp.Header.Get("ETag"))
	f.logger.Debug().Str("etag", token).Str("image_url", imageURL).Msg("Located strip image")

	if token != "" && token == previousToken {
		f.logger.Info().Str("etag", token).Msg("Homepage ETag unchanged, skipping image download")
		return Outcome{Kind: model.OutcomeNotModified}, nil
	}

	data, err := f.fetchImage(ctx, imageURL)
	if err != nil {
		return Outcome{}, err
	}

	strip := model.NewStrip(data, token, imageURL, f.now())
	f.logger.Info().Str("etag", token).Str("image_url", imageURL).Int("bytes", len(data)).Msg("Fetched new strip")
	return Outcome{Kind: model.OutcomeNewStrip, Strip: strip}, nil
}

func (f *Fetcher) fetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := f.newRequest(ctx, imageURL)
	if err != nil {
		return nil, err
	}

	resp, err := f.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(imageURL, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	declared := model.ImageTypeForContentType(contentType)
	if declared == model.ImageUnknown {
		return nil, imageDataError(imageURL, fmt.Sprintf("unexpected content type for daily strip image: %q", contentType))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, networkError(imageURL, err)
	}
	if len(data) > MaxImageBytes {
		return nil, imageDataError(imageURL, fmt.Sprintf("image larger than %d bytes", MaxImageBytes))
	}

	sniffed := model.Sniff(data)
	if sniffed == model.ImageUnknown {
		return nil, imageDataError(imageURL, "response body does not appear to be an image")
	}
	if sniffed != declared {
		return nil, imageDataError(imageURL, fmt.Sprintf("content type %q does not match %s data", contentType, sniffed))
	}
	return data, nil
}

func (f *Fetcher) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, networkError(rawURL, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	return req, nil
}

func (f *Fetcher) do(req *http.Request) (*http.Response, error) {
	rawURL := req.URL.String()
	if err := f.limiter.Wait(req.Context()); err != nil {
		return nil, networkError(rawURL, err)
	}

	f.logger.Debug().Str("url", rawURL).Msg("Executing GET")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, networkError(rawURL, err)
	}
	return resp, nil
}
