package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// Resolver turns a free-text query or URL into a playable track.
type Resolver interface {
	Resolve(ctx context.Context, query string) (*Track, error)
}

// YTDLP resolves queries with the yt-dlp binary. Results are cached by
// normalized query.
type YTDLP struct {
	path   string
	cache  *cache.Cache
	logger *slog.Logger
}

// NewYTDLP creates a resolver. An empty path uses "yt-dlp" from PATH.
func NewYTDLP(path string, cacheTTL time.Duration, logger *slog.Logger) *YTDLP {
	if path == "" {
		path = "yt-dlp"
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &YTDLP{
		path:   path,
		cache:  cache.New(cacheTTL, 2*cacheTTL),
		logger: logger.With("component", "resolver"),
	}
}

// Resolve returns the first match for query. URLs are used as is; anything
// else becomes a single-result YouTube search.
func (y *YTDLP) Resolve(ctx context.Context, query string) (*Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrNoTrack)
	}

	key := strings.ToLower(query)
	if v, ok := y.cache.Get(key); ok {
		t := *v.(*Track)
		return &t, nil
	}

	target := query
	if !isURL(query) {
		target = "ytsearch1:" + query
	}

	bin, err := exec.LookPath(y.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolMissing, y.path)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, "-j", "--no-playlist", "--no-warnings", "-f", "bestaudio/best", target)
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: yt-dlp: %s", ErrNoTrack, msg)
	}

	track, err := parseYTDLP(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	y.logger.Debug("resolved track",
		"query", query,
		"title", track.Title,
		"duration", track.FormattedDuration(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	cached := *track
	y.cache.Set(key, &cached, cache.DefaultExpiration)
	return track, nil
}

// ytdlpInfo is the subset of yt-dlp's JSON info dict used here.
type ytdlpInfo struct {
	Title      string   `json:"title"`
	WebpageURL string   `json:"webpage_url"`
	URL        string   `json:"url"`
	Duration   *float64 `json:"duration"`
	Thumbnail  string   `json:"thumbnail"`
}

// parseYTDLP reads the first info line of yt-dlp -j output.
func parseYTDLP(out []byte) (*Track, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var info ytdlpInfo
		if err := json.Unmarshal(line, &info); err != nil {
			return nil, fmt.Errorf("%w: decoding yt-dlp output: %v", ErrNoTrack, err)
		}
		if info.URL == "" {
			return nil, fmt.Errorf("%w: no stream url", ErrNoTrack)
		}
		t := &Track{
			Title:     info.Title,
			URL:       info.WebpageURL,
			StreamURL: info.URL,
			Thumbnail: info.Thumbnail,
		}
		if t.URL == "" {
			t.URL = info.URL
		}
		if t.Title == "" {
			t.Title = t.URL
		}
		if info.Duration != nil {
			t.Duration = time.Duration(*info.Duration * float64(time.Second))
		}
		return t, nil
	}
	return nil, ErrNoTrack
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
