package videodna

import (
	"os"

	"github.com/himanishpuri/VideoDNA/pkg/videodna/ai"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/asset"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/storage"
)

type Config struct {
	DBPath              string
	PoolDir             string
	ClipCacheDir        string
	TempDir             string
	KeyframeIntervalSec float64

	Logger Logger
	DB     *storage.DBClient

	// Collaborators left nil are backed by one OpenAI client built from AI.
	Transcriber Transcriber
	Vision      VisionAnalyzer
	Scorer      SegmentScorer
	Embedder    Embedder
	Slicer      Slicer
	Prober      asset.DurationProber
	Extractor   AudioExtractor
	AI          ai.Config
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithPoolDir(dir string) Option {
	return func(c *Config) {
		c.PoolDir = dir
	}
}

func WithClipCacheDir(dir string) Option {
	return func(c *Config) {
		c.ClipCacheDir = dir
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithKeyframeInterval(sec float64) Option {
	return func(c *Config) {
		c.KeyframeIntervalSec = sec
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithDB(db *storage.DBClient) Option {
	return func(c *Config) {
		c.DB = db
	}
}

func WithTranscriber(t Transcriber) Option {
	return func(c *Config) {
		c.Transcriber = t
	}
}

func WithVisionAnalyzer(v VisionAnalyzer) Option {
	return func(c *Config) {
		c.Vision = v
	}
}

func WithScorer(s SegmentScorer) Option {
	return func(c *Config) {
		c.Scorer = s
	}
}

func WithEmbedder(e Embedder) Option {
	return func(c *Config) {
		c.Embedder = e
	}
}

func WithSlicer(s Slicer) Option {
	return func(c *Config) {
		c.Slicer = s
	}
}

func WithDurationProber(p asset.DurationProber) Option {
	return func(c *Config) {
		c.Prober = p
	}
}

func WithAudioExtractor(e AudioExtractor) Option {
	return func(c *Config) {
		c.Extractor = e
	}
}

func WithAIConfig(cfg ai.Config) Option {
	return func(c *Config) {
		c.AI = cfg
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:              "videodna.sqlite3",
		PoolDir:             "videodna_pool",
		ClipCacheDir:        "videodna_clips",
		TempDir:             os.TempDir(),
		KeyframeIntervalSec: 2,
		Logger:              nil,
	}
}
