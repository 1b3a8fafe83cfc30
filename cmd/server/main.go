package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/himanishpuri/VideoDNA/pkg/videodna"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/ai"
)

var (
	port           int
	dbPath         string
	poolDir        string
	clipCacheDir   string
	exportDir      string
	tempDir        string
	allowedOrigins string
)

func init() {
	flag.IntVar(&port, "port", 8080, "HTTP server port")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("VIDEODNA_DB_PATH", "videodna.sqlite3"), "Path to SQLite database")
	flag.StringVar(&poolDir, "pool", getEnvOrDefault("VIDEODNA_POOL_DIR", "videodna_pool"), "Asset pool directory")
	flag.StringVar(&clipCacheDir, "clips", getEnvOrDefault("VIDEODNA_CLIP_DIR", "videodna_clips"), "Clip slice cache directory")
	flag.StringVar(&exportDir, "exports", getEnvOrDefault("VIDEODNA_EXPORT_DIR", "videodna_exports"), "Export output directory")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("VIDEODNA_TEMP_DIR", os.TempDir()), "Temporary directory")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	flag.Parse()

	// Parse allowed origins
	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	if err := os.MkdirAll(exportDir, 0755); err != nil {
		log.Fatalf("Failed to create export dir: %v", err)
	}

	// Create VideoDNA service
	service, err := videodna.NewService(
		videodna.WithDBPath(dbPath),
		videodna.WithPoolDir(poolDir),
		videodna.WithClipCacheDir(clipCacheDir),
		videodna.WithTempDir(tempDir),
		videodna.WithAIConfig(ai.Config{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		}),
	)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	// Create server configuration
	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		ExportDir:      exportDir,
		AllowedOrigins: origins,
	}

	// Create and start server
	server := NewServer(service, config)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
