package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for chara.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Library    LibraryConfig    `toml:"library"`
	Images     ImagesConfig     `toml:"images"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
}

// LibraryConfig describes the card directory and how cards are measured.
type LibraryConfig struct {
	Dir           string   `toml:"dir"`
	Ignore        []string `toml:"ignore"`
	CharsPerToken int      `toml:"chars_per_token"` // 6 for large vocabularies, 4 for small
}

// ImagesConfig controls images converted when a card is attached.
type ImagesConfig struct {
	MaxDimension int `toml:"max_dimension"` // 0 keeps the source size
}

// EncryptionConfig holds paths to the age key pair used for snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "none" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible services; enables path-style addressing

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the library database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// DefaultCharsPerToken matches tokenizers with a large vocabulary.
const DefaultCharsPerToken = 6

// NewConfig creates a Config rooted at baseDir: a sqlite database and a
// filesystem vault under baseDir, age keys in baseDir/keys.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Library: LibraryConfig{
			CharsPerToken: DefaultCharsPerToken,
		},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "chara.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "chara.key"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
	}
}

// Manager reads and writes the TOML form of Config.
type Manager struct{}

// Read decodes a Config. Keys that match no setting are an error, so a
// misspelled option is reported instead of silently ignored.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return &cfg, nil
}

func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads the Config stored at path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := (&Manager{}).Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Init writes cfg to a new file at path, creating parent directories. An
// existing file is never replaced.
func Init(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	werr := (&Manager{}).Write(f, cfg)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(path)
		return fmt.Errorf("initializing config: %w", werr)
	}
	return nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	if c.HostID == "" {
		return fmt.Errorf("host_id is not set")
	}
	switch c.Library.CharsPerToken {
	case 0, 4, 6:
	default:
		return fmt.Errorf("library.chars_per_token must be 4 or 6, got %d", c.Library.CharsPerToken)
	}
	if c.Images.MaxDimension < 0 {
		return fmt.Errorf("images.max_dimension must not be negative")
	}
	if len(c.Vaults) == 0 {
		return fmt.Errorf("no vaults configured")
	}
	return nil
}
