// Package instagram downloads posts, reels and carousels through
// Instagram's internal GraphQL API. Calling the API directly is far more
// reliable than generic extraction for this site; any API failure falls
// through to the delegate backend instead of failing the task.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go-media-download/internal/helpers"
	"go-media-download/internal/source"

	log "github.com/sirupsen/logrus"
)

const (
	graphqlEndpoint = "https://www.instagram.com/api/graphql"

	// Public values embedded in the Instagram web app; scrapers send the
	// same ones.
	appID     = "936619743392459"
	lsdToken  = "AVqbxe3J_YA"
	asbdID    = "129477"
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	// defaultDocID identifies the shortcode-media GraphQL query. Instagram
	// rotates it every few weeks; INSTAGRAM_DOC_ID overrides it without a
	// redeploy.
	defaultDocID = "8845758582119845"

	// Conservative bound under Instagram's ~200 requests/hour per IP.
	rateLimitPerHour = 180
)

// contentTypes are the URL path prefixes that carry a post shortcode.
var contentTypes = map[string]bool{"p": true, "reel": true, "reels": true, "tv": true}

// rateLimiter is a sliding one-hour window over request timestamps.
type rateLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
	limit      int
}

func (r *rateLimiter) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	kept := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.timestamps = kept
	if len(r.timestamps) >= r.limit {
		return false
	}
	r.timestamps = append(r.timestamps, time.Now())
	return true
}

// Backend is the Instagram GraphQL download source. delegate handles
// anything the API cannot serve (rate limit, rotated doc_id, private posts).
type Backend struct {
	client   *http.Client
	endpoint string
	docID    string
	delegate source.Source
	limiter  *rateLimiter
}

// New builds the backend. A nil client gets a default with a short timeout;
// GraphQL calls are small. delegate may be nil, which turns API failures
// into hard errors.
func New(client *http.Client, delegate source.Source) *Backend {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	docID := os.Getenv("INSTAGRAM_DOC_ID")
	if docID == "" {
		docID = defaultDocID
	}
	return &Backend{
		client:   client,
		endpoint: graphqlEndpoint,
		docID:    docID,
		delegate: delegate,
		limiter:  &rateLimiter{limit: rateLimitPerHour},
	}
}

func (b *Backend) Name() string { return "instagram" }

// Supports accepts instagram.com content URLs (posts, reels, tv), never
// profile pages.
func (b *Backend) Supports(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host != "instagram.com" && host != "www.instagram.com" {
		return false
	}
	return extractShortcode(u) != ""
}

// extractShortcode pulls the post code out of /p/<code>/, /reel/<code>/ and
// the /<username>/reel/<code>/ variants.
func extractShortcode(u *url.URL) string {
	var segments []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) >= 2 && contentTypes[segments[0]] {
		return segments[1]
	}
	if len(segments) >= 3 && contentTypes[segments[1]] {
		return segments[2]
	}
	return ""
}

func (b *Backend) Metadata(ctx context.Context, rawURL string) (source.Metadata, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return source.Metadata{}, fmt.Errorf("parsing URL: %w", err)
	}
	media, err := b.fetchMedia(ctx, extractShortcode(u))
	if err != nil {
		if b.delegate != nil {
			log.WithError(err).Debug("GraphQL metadata failed, delegating")
			return b.delegate.Metadata(ctx, rawURL)
		}
		return source.Metadata{}, err
	}
	return source.Metadata{
		Title:    media.title(),
		Artist:   media.Username,
		Duration: media.Duration,
	}, nil
}

// EstimateSize is unknown ahead of time; Instagram media is small enough
// that the global cap check after HEAD-less downloads suffices.
func (b *Backend) EstimateSize(context.Context, string, string) (int64, error) {
	return 0, nil
}

// IsLivestream is always false: content URLs are recorded media.
func (b *Backend) IsLivestream(context.Context, string) (bool, error) {
	return false, nil
}

// Download fetches the post via GraphQL and streams the media files over
// plain HTTP. Carousels yield the first item as the primary output and the
// rest as additional files.
func (b *Backend) Download(ctx context.Context, req source.Request) (*source.Result, error) {
	u, err := url.Parse(req.Task.Url)
	if err != nil {
		return nil, fmt.Errorf("parsing URL: %w", err)
	}
	shortcode := extractShortcode(u)

	media, err := b.fetchMedia(ctx, shortcode)
	if err != nil {
		if b.delegate != nil {
			log.WithError(err).Warnf("GraphQL failed for %s, delegating download", shortcode)
			return b.delegate.Download(ctx, req)
		}
		return nil, err
	}

	primary := media.Items[0]
	mediaURL, mimeType, ext := primary.pick()
	if mediaURL == "" {
		if b.delegate != nil {
			log.Warnf("Post %s has no usable media URL, delegating download", shortcode)
			return b.delegate.Download(ctx, req)
		}
		return nil, fmt.Errorf("post %s has no usable media URL", shortcode)
	}

	if !helpers.CheckAndMakeDir(req.OutputDir) {
		return nil, fmt.Errorf("failed to create output directory %s", req.OutputDir)
	}
	outputPath := filepath.Join(req.OutputDir, fmt.Sprintf("%s.%s", req.Task.ID, ext))

	log.Infof("Downloading %s (%s%s) by @%s", shortcode, mimeType, carouselSuffix(len(media.Items)), media.Username)
	size, err := b.downloadMedia(ctx, mediaURL, outputPath, req.Progress)
	if err != nil {
		return nil, err
	}

	// Remaining carousel items. A failed extra item is logged and skipped,
	// never a task failure.
	var extras []string
	for i, item := range media.Items[1:] {
		itemURL, _, itemExt := item.pick()
		if itemURL == "" {
			continue
		}
		itemPath := filepath.Join(req.OutputDir, fmt.Sprintf("%s_carousel_%d.%s", req.Task.ID, i+2, itemExt))
		if _, err := b.downloadMedia(ctx, itemURL, itemPath, nil); err != nil {
			log.WithError(err).Warnf("Failed to download carousel item %d of %s", i+2, shortcode)
			continue
		}
		extras = append(extras, itemPath)
	}

	duration := media.Duration
	if primary.IsVideo && duration == 0 {
		duration = helpers.ProbeMediaDuration(ctx, outputPath)
	}

	title := req.Task.Hints.Title
	if title == "" {
		title = media.title()
	}
	artist := req.Task.Hints.Artist
	if artist == "" {
		artist = media.Username
	}
	return &source.Result{
		FilePath:        outputPath,
		Title:           title,
		Artist:          artist,
		MimeType:        mimeType,
		SizeBytes:       size,
		Duration:        duration,
		AdditionalFiles: extras,
	}, nil
}

// postMedia is a resolved post: one or more media items plus caption data.
type postMedia struct {
	Items    []mediaItem
	Caption  string
	Username string
	Duration time.Duration
}

// title derives a displayable title from the caption's first line.
func (m *postMedia) title() string {
	first := strings.TrimSpace(strings.SplitN(m.Caption, "\n", 2)[0])
	if first == "" {
		return fmt.Sprintf("Instagram post by @%s", m.Username)
	}
	if len(first) > 120 {
		first = first[:120]
	}
	return first
}

type mediaItem struct {
	IsVideo    bool
	VideoURL   string
	DisplayURL string
}

// pick chooses the media URL, mime type and extension for one item. The URL
// is empty when the API omitted the field we need.
func (i mediaItem) pick() (mediaURL, mimeType, ext string) {
	if i.IsVideo {
		return i.VideoURL, "video/mp4", "mp4"
	}
	return i.DisplayURL, "image/jpeg", "jpg"
}

// graphqlMedia mirrors the shortcode-media node of the GraphQL response.
type graphqlMedia struct {
	IsVideo            bool    `json:"is_video"`
	VideoURL           string  `json:"video_url"`
	DisplayURL         string  `json:"display_url"`
	VideoDuration      float64 `json:"video_duration"`
	EdgeMediaToCaption struct {
		Edges []struct {
			Node struct {
				Text string `json:"text"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"edge_media_to_caption"`
	Owner struct {
		Username string `json:"username"`
	} `json:"owner"`
	EdgeSidecarToChildren struct {
		Edges []struct {
			Node struct {
				IsVideo    bool   `json:"is_video"`
				VideoURL   string `json:"video_url"`
				DisplayURL string `json:"display_url"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"edge_sidecar_to_children"`
}

type graphqlResponse struct {
	Data struct {
		XDTShortcodeMedia *graphqlMedia `json:"xdt_shortcode_media"`
		ShortcodeMedia    *graphqlMedia `json:"shortcode_media"`
	} `json:"data"`
	Message string `json:"message"`
}

// fetchMedia resolves a shortcode through the GraphQL endpoint.
func (b *Backend) fetchMedia(ctx context.Context, shortcode string) (*postMedia, error) {
	if shortcode == "" {
		return nil, fmt.Errorf("cannot extract shortcode")
	}
	if !b.limiter.acquire() {
		return nil, fmt.Errorf("instagram API rate limited")
	}

	form := url.Values{}
	form.Set("doc_id", b.docID)
	form.Set("variables", fmt.Sprintf(`{"shortcode":%q}`, shortcode))
	form.Set("lsd", lsdToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating GraphQL request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-IG-App-ID", appID)
	req.Header.Set("X-FB-LSD", lsdToken)
	req.Header.Set("X-ASBD-ID", asbdID)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GraphQL request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GraphQL returned HTTP %d", resp.StatusCode)
	}

	var body graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("parsing GraphQL response: %w", err)
	}
	if strings.Contains(body.Message, "useragent mismatch") || strings.Contains(body.Message, "doc_id") {
		return nil, fmt.Errorf("doc_id may be expired: %s", body.Message)
	}

	media := body.Data.XDTShortcodeMedia
	if media == nil {
		media = body.Data.ShortcodeMedia
	}
	if media == nil {
		if strings.Contains(body.Message, "checkpoint_required") || strings.Contains(body.Message, "login_required") {
			return nil, fmt.Errorf("private account or login required")
		}
		return nil, fmt.Errorf("post not found or media unavailable")
	}

	post := &postMedia{
		Username: media.Owner.Username,
		Duration: time.Duration(media.VideoDuration * float64(time.Second)),
	}
	if post.Username == "" {
		post.Username = "instagram"
	}
	if len(media.EdgeMediaToCaption.Edges) > 0 {
		post.Caption = media.EdgeMediaToCaption.Edges[0].Node.Text
	}

	if edges := media.EdgeSidecarToChildren.Edges; len(edges) > 0 {
		for _, edge := range edges {
			post.Items = append(post.Items, mediaItem{
				IsVideo:    edge.Node.IsVideo,
				VideoURL:   edge.Node.VideoURL,
				DisplayURL: edge.Node.DisplayURL,
			})
		}
	} else {
		post.Items = []mediaItem{{
			IsVideo:    media.IsVideo,
			VideoURL:   media.VideoURL,
			DisplayURL: media.DisplayURL,
		}}
	}
	return post, nil
}

// downloadMedia streams one media URL to disk, reporting progress roughly
// every 5% when the total is known.
func (b *Backend) downloadMedia(ctx context.Context, mediaURL, outputPath string, progress chan<- source.Progress) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return 0, fmt.Errorf("creating media request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("media download returned HTTP %d", resp.StatusCode)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", outputPath, err)
	}
	defer out.Close()

	counter := &helpers.CounterWriter{Writer: out}
	total := resp.ContentLength

	var lastReport uint64
	step := uint64(5 * 1024 * 1024)
	if total > 0 {
		step = uint64(total) / 20
		if step == 0 {
			step = 1
		}
	}

	buf := make([]byte, 64*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := counter.Write(buf[:n]); writeErr != nil {
				return 0, fmt.Errorf("writing %s: %w", outputPath, writeErr)
			}
			if counter.Total-lastReport >= step {
				lastReport = counter.Total
				snap := source.Progress{DownloadedBytes: int64(counter.Total), TotalBytes: total}
				if total > 0 {
					snap.Percent = float64(counter.Total) / float64(total) * 100
				}
				source.Notify(progress, snap)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, fmt.Errorf("reading media stream: %w", readErr)
		}
	}
	return int64(counter.Total), nil
}

func carouselSuffix(items int) string {
	if items <= 1 {
		return ""
	}
	return fmt.Sprintf(", carousel with %d items", items)
}
