package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	HTTPAddr   string
	DataDir    string
	DBPath     string
	RosterPath string
}

func Load() Config {
	loadDotEnv(".env")
	dataDir := getEnv("SWARM_DATA_DIR", "data")
	return Config{
		HTTPAddr:   getEnv("SWARM_HTTP_ADDR", ":8080"),
		DataDir:    dataDir,
		DBPath:     getEnv("SWARM_DB_PATH", filepath.Join(dataDir, "swarm.db")),
		RosterPath: getEnv("SWARM_ROSTER_PATH", "roster.yaml"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
