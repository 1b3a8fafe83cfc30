package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/himanishpuri/VideoDNA/pkg/utils"
	"github.com/lrstanley/go-ytdlp"
	"github.com/tidwall/gjson"
)

// DownloadResult describes a fetched remote video.
type DownloadResult struct {
	Path  string
	Title string
	URL   string
}

// DownloadVideo fetches a remote video (YouTube and friends) into outputDir
// via yt-dlp and returns its local path and display title.
func DownloadVideo(ctx context.Context, rawURL, outputDir string) (*DownloadResult, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
	}

	if err := utils.MakeDir(outputDir); err != nil {
		return nil, fmt.Errorf("creating download dir: %w", err)
	}

	res, err := ytdlp.New().
		NoPlaylist().
		NoWarnings().
		Format("mp4").
		Output(filepath.Join(outputDir, "%(id)s.%(ext)s")).
		PrintJSON().
		Run(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp failed: %w", err)
	}

	info := gjson.Parse(res.Stdout)
	id := strings.TrimSpace(info.Get("id").String())
	ext := strings.TrimSpace(info.Get("ext").String())
	if id == "" {
		return nil, fmt.Errorf("yt-dlp returned no video id")
	}
	if ext == "" {
		ext = "mp4"
	}

	title := info.Get("title").String()
	if title == "" {
		title = id
	}
	pageURL := info.Get("webpage_url").String()
	if pageURL == "" {
		pageURL = rawURL
	}

	return &DownloadResult{
		Path:  filepath.Join(outputDir, id+"."+ext),
		Title: title,
		URL:   pageURL,
	}, nil
}
