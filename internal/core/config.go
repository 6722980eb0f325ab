package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/patientimages/internal/backend/database"
	"github.com/jo-hoe/patientimages/internal/backend/lock"
)

const (
	defaultPort             = 8080
	defaultLogLevel         = "info"
	defaultDataRoot         = "./data"
	defaultImageDirectory   = "patientimages"
	defaultExtension        = "png"
	defaultMaxUploadBytes   = 20 * 1024 * 1024
	defaultDatabaseType     = "sqlite"
	defaultConnectionString = "./data/patientimages.db"
)

type Database struct {
	Type             string `yaml:"type" env:"DATABASE_TYPE"`
	ConnectionString string `yaml:"connectionString" env:"DATABASE_CONNECTION_STRING"`
}

type BlobStore struct {
	// RemoveOnDelete also deletes the image file when its metadata is deleted.
	RemoveOnDelete bool `yaml:"removeOnDelete" env:"BLOB_REMOVE_ON_DELETE"`
}

type Directory struct {
	CacheSize int `yaml:"cacheSize" env:"DIRECTORY_CACHE_SIZE"`
}

// ReferenceConfig seeds a patient, provider or location directory entry at startup.
type ReferenceConfig struct {
	Kind    string `yaml:"kind"`
	UUID    string `yaml:"uuid"`
	Display string `yaml:"display"`
}

type ServiceConfig struct {
	Port             int               `yaml:"port" env:"PORT"`
	LogLevel         string            `yaml:"logLevel" env:"LOG_LEVEL"`
	DataRoot         string            `yaml:"dataRoot" env:"APP_DATA_ROOT"`
	ImageDirectory   string            `yaml:"imageDirectory" env:"IMAGE_DIRECTORY"`
	DefaultExtension string            `yaml:"defaultExtension"`
	MaxUploadBytes   int64             `yaml:"maxUploadBytes" env:"MAX_UPLOAD_BYTES"`
	Database         Database          `yaml:"database"`
	BlobStore        BlobStore         `yaml:"blobStore"`
	Lock             lock.Config       `yaml:"lock"`
	Directory        Directory         `yaml:"directory"`
	References       []ReferenceConfig `yaml:"references"`
}

// ImageDirectoryPath returns the directory holding the image files.
func (c *ServiceConfig) ImageDirectoryPath() string {
	return filepath.Join(c.DataRoot, c.ImageDirectory)
}

// LoadConfig loads configuration from the specified YAML file. Environment
// variables override values from the file.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Parse YAML
	var config ServiceConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.DataRoot == "" {
		c.DataRoot = defaultDataRoot
	}
	if c.ImageDirectory == "" {
		c.ImageDirectory = defaultImageDirectory
	}
	if c.DefaultExtension == "" {
		c.DefaultExtension = defaultExtension
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = defaultMaxUploadBytes
	}
	if c.Database.Type == "" {
		c.Database.Type = defaultDatabaseType
	}
	if c.Database.ConnectionString == "" {
		c.Database.ConnectionString = defaultConnectionString
	}
	if c.Lock.Type == "" {
		c.Lock.Type = "memory"
	}
}

// Validate checks the configuration after defaults have been applied.
func (c *ServiceConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if strings.ContainsAny(c.ImageDirectory, `/\`) || c.ImageDirectory == ".." {
		return fmt.Errorf("imageDirectory must be a single directory name, got %q", c.ImageDirectory)
	}
	if strings.ContainsAny(c.DefaultExtension, `./\`) {
		return fmt.Errorf("defaultExtension must not contain dots or separators, got %q", c.DefaultExtension)
	}
	if c.Lock.Type == "redis" && c.Lock.RedisURL == "" {
		return fmt.Errorf("lock type redis requires lock.redisURL")
	}
	return validateReferences(c.References)
}

// validateReferences ensures all seeded references have a known kind and a unique uuid per kind
func validateReferences(references []ReferenceConfig) error {
	seen := make(map[string]bool)

	for i, ref := range references {
		if !database.ReferenceKind(ref.Kind).Valid() {
			return fmt.Errorf("reference at index %d has unknown kind %q", i, ref.Kind)
		}
		if ref.UUID == "" {
			return fmt.Errorf("reference at index %d has empty uuid", i)
		}

		key := ref.Kind + "/" + ref.UUID
		if seen[key] {
			return fmt.Errorf("duplicate %s reference: %s", ref.Kind, ref.UUID)
		}
		seen[key] = true
	}

	return nil
}
