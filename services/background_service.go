package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rishivishwanath/autocont/logging"
	"github.com/rishivishwanath/autocont/models"
	"github.com/rishivishwanath/autocont/utils"
)

// ErrNoClips is returned when a source has nothing to offer
var ErrNoClips = errors.New("no background clips available")

var clipExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

// ClipSource provides a local path to one background clip
type ClipSource interface {
	Name() string
	Pick(ctx context.Context) (string, error)
}

// BackgroundService picks a clip and plans how often it must repeat to cover
// the narration
type BackgroundService struct {
	sources []ClipSource
	prober  utils.Prober
	logger  *logging.Logger
}

// NewBackgroundService creates a service that tries sources in order
func NewBackgroundService(prober utils.Prober, logger *logging.Logger, sources ...ClipSource) *BackgroundService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &BackgroundService{
		sources: sources,
		prober:  prober,
		logger:  logger,
	}
}

// Select returns a clip whose looped duration is at least minDuration
func (bs *BackgroundService) Select(ctx context.Context, minDuration float64) (*models.BackgroundClip, error) {
	if len(bs.sources) == 0 {
		return nil, &AssetError{Err: ErrNoClips}
	}

	var lastErr error
	for _, source := range bs.sources {
		clip, err := bs.selectFrom(ctx, source, minDuration)
		if err == nil {
			return clip, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		bs.logger.Warnw("Background source failed",
			"source", source.Name(),
			"error", err,
		)
		lastErr = err
	}

	return nil, lastErr
}

func (bs *BackgroundService) selectFrom(
	ctx context.Context,
	source ClipSource,
	minDuration float64,
) (*models.BackgroundClip, error) {
	path, err := source.Pick(ctx)
	if err != nil {
		var assetErr *AssetError
		if errors.As(err, &assetErr) {
			return nil, err
		}
		return nil, &AssetError{Err: fmt.Errorf("%s: %w", source.Name(), err)}
	}

	info, err := bs.prober.Probe(ctx, path)
	if err != nil {
		return nil, &AssetError{Path: path, Err: fmt.Errorf("unreadable clip: %w", err)}
	}
	if !info.HasVideo || info.Duration <= 0 {
		return nil, &AssetError{Path: path, Err: errors.New("clip has no playable video")}
	}

	clip := PlanLoops(path, info.Duration, minDuration)
	bs.logger.Debugw("Background selected",
		"source", source.Name(),
		"path", path,
		"source_duration", info.Duration,
		"loops", clip.Loops,
	)
	return &clip, nil
}

// PlanLoops repeats the whole clip until it covers minDuration. Seams fall on
// multiples of the source duration.
func PlanLoops(path string, sourceDuration, minDuration float64) models.BackgroundClip {
	loops := 1
	if minDuration > sourceDuration {
		loops = int(math.Ceil(minDuration / sourceDuration))
		for float64(loops)*sourceDuration < minDuration {
			loops++
		}
	}

	loopPoints := make([]float64, 0, loops-1)
	for k := 1; k < loops; k++ {
		loopPoints = append(loopPoints, float64(k)*sourceDuration)
	}

	return models.BackgroundClip{
		SourcePath:     path,
		SourceDuration: sourceDuration,
		Loops:          loops,
		Duration:       float64(loops) * sourceDuration,
		LoopPoints:     loopPoints,
	}
}

// LibrarySource picks a random clip from a local directory
type LibrarySource struct {
	dir  string
	pick func(n int) int
}

func NewLibrarySource(dir string) *LibrarySource {
	return &LibrarySource{dir: dir, pick: rand.IntN}
}

func (ls *LibrarySource) Name() string { return "library" }

func (ls *LibrarySource) Pick(ctx context.Context) (string, error) {
	entries, err := os.ReadDir(ls.dir)
	if err != nil {
		return "", &AssetError{Path: ls.dir, Err: err}
	}

	clips := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !clipExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		clips = append(clips, filepath.Join(ls.dir, entry.Name()))
	}
	if len(clips) == 0 {
		return "", &AssetError{Path: ls.dir, Err: ErrNoClips}
	}

	sort.Strings(clips)
	return clips[ls.pick(len(clips))], nil
}

// PexelsSource searches Pexels for stock footage and caches downloads
type PexelsSource struct {
	apiKey     string
	keywords   string
	cacheDir   string
	baseURL    string
	httpClient *http.Client
	pick       func(n int) int
}

// NewPexelsSource creates a new Pexels clip source
func NewPexelsSource(apiKey, keywords, cacheDir string) *PexelsSource {
	return &PexelsSource{
		apiKey:     apiKey,
		keywords:   keywords,
		cacheDir:   cacheDir,
		baseURL:    "https://api.pexels.com",
		httpClient: &http.Client{},
		pick:       rand.IntN,
	}
}

// PexelsVideoResponse represents Pexels API response
type PexelsVideoResponse struct {
	Videos []PexelsVideo `json:"videos"`
}

type PexelsVideo struct {
	ID         int               `json:"id"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Duration   int               `json:"duration"`
	VideoFiles []PexelsVideoFile `json:"video_files"`
}

type PexelsVideoFile struct {
	ID       int    `json:"id"`
	Quality  string `json:"quality"` // hd, sd, uhd
	FileType string `json:"file_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Link     string `json:"link"`
}

func (ps *PexelsSource) Name() string { return "pexels" }

func (ps *PexelsSource) Pick(ctx context.Context) (string, error) {
	video, err := ps.searchVideo(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to search video: %w", err)
	}

	clipPath := filepath.Join(ps.cacheDir, fmt.Sprintf("pexels-%d.mp4", video.ID))
	if utils.FileExists(clipPath) {
		return clipPath, nil
	}

	link := bestVideoFile(video)
	if link == "" {
		return "", fmt.Errorf("no valid video files for pexels video %d", video.ID)
	}

	if err := ps.downloadVideo(ctx, link, clipPath); err != nil {
		return "", fmt.Errorf("failed to download video: %w", err)
	}

	return clipPath, nil
}

// searchVideo searches Pexels for a portrait video matching the keywords
func (ps *PexelsSource) searchVideo(ctx context.Context) (*PexelsVideo, error) {
	params := url.Values{}
	params.Add("query", ps.keywords)
	params.Add("per_page", "10")
	params.Add("orientation", "portrait")
	params.Add("size", "medium")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ps.baseURL+"/videos/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", ps.apiKey)

	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pexels API returned status %d", resp.StatusCode)
	}

	var result PexelsVideoResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	if len(result.Videos) == 0 {
		return nil, fmt.Errorf("no videos found for keywords: %s", ps.keywords)
	}

	// Pick a random video from results to vary content
	video := result.Videos[ps.pick(len(result.Videos))]
	return &video, nil
}

// bestVideoFile prefers an HD rendition that is at least 1080 wide
func bestVideoFile(video *PexelsVideo) string {
	for _, file := range video.VideoFiles {
		if file.Quality == "hd" && file.Width >= 1080 {
			return file.Link
		}
	}
	if len(video.VideoFiles) > 0 {
		return video.VideoFiles[0].Link
	}
	return ""
}

// downloadVideo writes to a temp file first so a failed download never
// leaves a truncated clip in the cache
func (ps *PexelsSource) downloadVideo(ctx context.Context, link, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return err
	}

	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	file, err := os.CreateTemp(filepath.Dir(path), "download-*.part")
	if err != nil {
		return err
	}
	tmpPath := file.Name()

	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
