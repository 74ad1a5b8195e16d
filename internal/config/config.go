// Package config provides configuration management for the stream grid
package config

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/Spatial-NVR/streamgrid/internal/grid"
	"github.com/Spatial-NVR/streamgrid/internal/layout"
)

const encryptedPrefix = "encrypted:"

// Config represents the streamgrid configuration file
type Config struct {
	Version  string              `yaml:"version"`
	System   SystemConfig        `yaml:"system"`
	Server   ServerConfig        `yaml:"server"`
	EventBus EventBusConfig      `yaml:"event_bus"`
	Go2RTC   Go2RTCConfig        `yaml:"go2rtc"`
	Grid     GridConfig          `yaml:"grid"`
	Cameras  []grid.CameraConfig `yaml:"cameras"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
	encKey   []byte          `yaml:"-"`
	written  []byte          `yaml:"-"`
}

// SystemConfig holds process-wide settings
type SystemConfig struct {
	Name        string         `yaml:"name"`
	StoragePath string         `yaml:"storage_path"`
	Database    DatabaseConfig `yaml:"database"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite path, relative to storage_path when not absolute
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Address        string   `yaml:"address"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// EventBusConfig holds the embedded NATS settings
type EventBusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"` // -1 picks a random port
}

// Go2RTCConfig holds the stream relay settings
type Go2RTCConfig struct {
	APIURL  string `yaml:"api_url"`
	Retries int    `yaml:"retries"`
}

// GridConfig holds the committed grid-wide settings
type GridConfig struct {
	Title       string                     `yaml:"title"`
	Layout      layout.Mode                `yaml:"layout"`
	RefreshRate int                        `yaml:"refresh_rate"`
	Resizable   bool                       `yaml:"resizable"`
	Draggable   bool                       `yaml:"draggable"`
	Positions   map[string]layout.Position `yaml:"positions,omitempty"`
	Sizes       map[string]layout.Size     `yaml:"sizes,omitempty"`
}

// Default returns a configuration with defaults applied, bound to path
func Default(path string) *Config {
	cfg := &Config{
		Grid: GridConfig{Resizable: true, Draggable: true},
		EventBus: EventBusConfig{
			Enabled: true,
		},
		Cameras: []grid.CameraConfig{},
		path:    path,
		encKey:  getEncryptionKey(),
	}
	cfg.setDefaults()
	return cfg
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.path = path
	return cfg, nil
}

// LoadOrCreate loads path, writing a default configuration first when
// the file does not exist
func LoadOrCreate(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		cfg := Default(path)
		if err := cfg.Save(); err != nil {
			return nil, err
		}
		slog.Info("Created default configuration", "path", path)
		return cfg, nil
	}
	return Load(path)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.encKey = getEncryptionKey()
	if err := cfg.decryptSecrets(); err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()
	return &cfg, nil
}

// Save saves the configuration to a YAML file
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

// saveUnlocked saves without acquiring lock (caller must hold lock)
func (c *Config) saveUnlocked() error {
	cfgCopy := &Config{
		Version:  c.Version,
		System:   c.System,
		Server:   c.Server,
		EventBus: c.EventBus,
		Go2RTC:   c.Go2RTC,
		Grid:     c.Grid,
		Cameras:  append([]grid.CameraConfig(nil), c.Cameras...),
		encKey:   c.encKey,
	}
	if err := cfgCopy.encryptSecrets(); err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# Stream grid configuration\n# Written on save - manual edits are picked up on change\n\n"
	data = append([]byte(header), data...)

	// Atomic write
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	c.written = data
	return nil
}

// Watch reloads the configuration when the file changes on disk, until
// ctx is done. The parent directory is watched so atomic replacements
// are seen.
func (c *Config) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	path := c.GetPath()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return nil
}

// OnChange registers a callback for config changes made outside this
// process
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload re-reads the file. Content this process wrote itself is ignored.
func (c *Config) reload() {
	path := c.GetPath()
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.RLock()
	own := bytes.Equal(data, c.written)
	c.mu.RUnlock()
	if own {
		return
	}

	newCfg, err := parse(data)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	// Copy fields individually to avoid copying the mutex
	c.Version = newCfg.Version
	c.System = newCfg.System
	c.Server = newCfg.Server
	c.EventBus = newCfg.EventBus
	c.Go2RTC = newCfg.Go2RTC
	c.Grid = newCfg.Grid
	c.Cameras = newCfg.Cameras
	c.encKey = newCfg.encKey
	c.written = data
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded", "path", path)

	for _, fn := range watchers {
		fn(c)
	}
}

// Snapshot returns the committed grid configuration
func (c *Config) Snapshot() grid.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := grid.Snapshot{
		Title:           c.Grid.Title,
		RefreshRate:     c.Grid.RefreshRate,
		Cameras:         append([]grid.CameraConfig{}, c.Cameras...),
		GridLayout:      c.Grid.Layout,
		CameraPositions: c.Grid.Positions,
		CameraSizes:     c.Grid.Sizes,
		Resizable:       c.Grid.Resizable,
		Draggable:       c.Grid.Draggable,
	}
	return s.Clone()
}

// ApplySnapshot stores a committed grid configuration and saves the file
func (c *Config) ApplySnapshot(s grid.Snapshot) error {
	s = s.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.Grid.Title = s.Title
	c.Grid.RefreshRate = s.RefreshRate
	c.Grid.Layout = s.GridLayout
	c.Grid.Positions = s.CameraPositions
	c.Grid.Sizes = s.CameraSizes
	c.Grid.Resizable = s.Resizable
	c.Grid.Draggable = s.Draggable
	c.Cameras = s.Cameras
	return c.saveUnlocked()
}

// GetPath returns the current config file path
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// DatabasePath resolves the SQLite file location
func (c *Config) DatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if filepath.IsAbs(c.System.Database.Path) {
		return c.System.Database.Path
	}
	return filepath.Join(c.System.StoragePath, c.System.Database.Path)
}

// ListenAddr returns the HTTP listen address
func (c *Config) ListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// applyEnv applies environment overrides
func (c *Config) applyEnv() {
	if v := os.Getenv("DATA_PATH"); v != "" {
		c.System.StoragePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.System.Logging.Level = v
	}
}

// setDefaults sets default values for unset fields
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.System.Name == "" {
		c.System.Name = "streamgrid"
	}
	if c.System.StoragePath == "" {
		c.System.StoragePath = "/data"
	}
	if c.System.Database.Path == "" {
		c.System.Database.Path = "streamgrid.db"
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.System.Logging.Format == "" {
		c.System.Logging.Format = "json"
	}
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.EventBus.Host == "" {
		c.EventBus.Host = "127.0.0.1"
	}
	if c.EventBus.Port == 0 {
		c.EventBus.Port = 4222
	}
	if c.Go2RTC.APIURL == "" {
		c.Go2RTC.APIURL = "http://localhost:1984"
	}
	if c.Go2RTC.Retries == 0 {
		c.Go2RTC.Retries = 3
	}
	if c.Grid.Title == "" {
		c.Grid.Title = "Camera Grid"
	}
	if _, ok := layout.Lookup(c.Grid.Layout); !ok {
		c.Grid.Layout = layout.Grid2x2
	}
	if c.Cameras == nil {
		c.Cameras = []grid.CameraConfig{}
	}
}

// encryptSecrets encrypts camera passwords
func (c *Config) encryptSecrets() error {
	for i := range c.Cameras {
		pw := c.Cameras[i].Password
		if pw != "" && !strings.HasPrefix(pw, encryptedPrefix) {
			encrypted, err := encrypt(c.encKey, pw)
			if err != nil {
				return err
			}
			c.Cameras[i].Password = encryptedPrefix + encrypted
		}
	}
	return nil
}

// decryptSecrets decrypts camera passwords
func (c *Config) decryptSecrets() error {
	for i := range c.Cameras {
		if strings.HasPrefix(c.Cameras[i].Password, encryptedPrefix) {
			encrypted := strings.TrimPrefix(c.Cameras[i].Password, encryptedPrefix)
			decrypted, err := decrypt(c.encKey, encrypted)
			if err != nil {
				return fmt.Errorf("camera %s: %w", c.Cameras[i].ID, err)
			}
			c.Cameras[i].Password = decrypted
		}
	}
	return nil
}

// getEncryptionKey returns the encryption key from environment or the
// built-in default
func getEncryptionKey() []byte {
	keyStr := os.Getenv("STREAMGRID_ENCRYPTION_KEY")
	if keyStr != "" {
		key, err := base64.StdEncoding.DecodeString(keyStr)
		if err == nil && len(key) == 32 {
			return key
		}
		slog.Warn("Ignoring invalid STREAMGRID_ENCRYPTION_KEY, expected 32 base64 bytes")
	}

	// Must be exactly 32 bytes for AES-256
	return []byte("streamgrid-default-key-change-me")
}

// encrypt encrypts a string using AES-GCM
func encrypt(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a string using AES-GCM
func decrypt(key []byte, ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
