package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/roll-call/internal/constants"
)

//go:embed calibration.yaml
var calibrationYAML []byte

type Config struct {
	Vision      VisionConfig
	Database    DatabaseConfig
	Legacy      LegacyConfig
	Calibration CalibrationConfig
}

type VisionConfig struct {
	URL   string // base URL of the detection/embedding service (defaults to http://localhost:8000)
	Model string // signature format tag the service produces (defaults to constants.SignatureVersion)
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the gallery HNSW index (optional)
}

type LegacyConfig struct {
	DSN string // MySQL DSN of the legacy school database for roster import
}

type CalibrationConfig struct {
	Models map[string]ModelCalibration `yaml:"models"`
}

type ModelCalibration struct {
	MatchThreshold     float64 `yaml:"match_threshold"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func Load() *Config {
	var calibration CalibrationConfig
	if err := yaml.Unmarshal(calibrationYAML, &calibration); err != nil {
		// Embedded file, so this can only happen if the file is broken at build time.
		panic("failed to unmarshal embedded calibration.yaml: " + err.Error())
	}

	return &Config{
		Vision: VisionConfig{
			URL:   os.Getenv("VISION_URL"),
			Model: os.Getenv("VISION_MODEL"),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Legacy: LegacyConfig{
			DSN: os.Getenv("LEGACY_DATABASE_DSN"),
		},
		Calibration: calibration,
	}
}

// ModelCalibration returns the calibration for a signature model version.
// Unknown models fall back to the SFace defaults so a miscalibrated tag
// degrades to the conservative threshold instead of accepting everything.
func (c *Config) ModelCalibration(model string) ModelCalibration {
	if cal, ok := c.Calibration.Models[model]; ok {
		return cal
	}
	return ModelCalibration{
		MatchThreshold:     constants.DefaultMatchThreshold,
		DetectionThreshold: constants.DefaultDetectionThreshold,
	}
}
