// Package config loads the fkreview YAML configuration, applies defaults and
// rejects values the pipeline cannot run with.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pipeline configuration.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	SampleStore SampleStoreConfig `yaml:"sample_store"`
	Filters     FiltersConfig     `yaml:"filters"`
	FK          FKConfig          `yaml:"fk"`
	Review      ReviewConfig      `yaml:"review"`
	Export      ExportConfig      `yaml:"export"`
	Worker      WorkerConfig      `yaml:"worker"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	MQTT        MQTTConfig        `yaml:"mqtt"`

	// LoadedFrom is the file or directory the config was read from.
	LoadedFrom string `yaml:"-"`
}

// LoggingConfig controls the daily file sink. The console sink is always on.
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// SampleStoreConfig selects the claim-check sample cache backend.
type SampleStoreConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	CacheSizeMB int    `yaml:"cache_size_mb"`

	// KeepWaveforms skips clearing a persistent store when a new session
	// interval is loaded.
	KeepWaveforms bool `yaml:"keep_waveforms"`
}

// FiltersConfig holds filter application settings and the filter list source.
type FiltersConfig struct {
	Taper                 int     `yaml:"taper"`
	RemoveGroupDelay      bool    `yaml:"remove_group_delay"`
	GroupDelaySec         float64 `yaml:"group_delay_sec"`
	SampleRateToleranceHz float64 `yaml:"sample_rate_tolerance_hz"`
	FilterList            string  `yaml:"filter_list"`
	ListsFile             string  `yaml:"lists_file"`
}

// FKConfig holds the FK grid defaults and review rules.
type FKConfig struct {
	MaximumSlowness       float64  `yaml:"maximum_slowness"`
	NumberOfPoints        int      `yaml:"number_of_points"`
	LeadFkSpectrumSeconds float64  `yaml:"lead_fk_spectrum_seconds"`
	PhasesNeedingReview   []string `yaml:"phases_needing_review"`
	FilterType            string   `yaml:"filter_type"`
}

// ReviewConfig locates the review database and picks the review order.
type ReviewConfig struct {
	DBPath string `yaml:"db_path"`
	Sort   string `yaml:"sort"`
}

// ExportConfig controls channel-segment export files.
type ExportConfig struct {
	Dir  string `yaml:"dir"`
	Gzip bool   `yaml:"gzip"`
}

// WorkerConfig sizes the filter worker pool.
type WorkerConfig struct {
	Workers int `yaml:"workers"`
}

// MetricsConfig exposes Prometheus metrics when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// MQTTConfig configures the derived-channel publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
	QoS         int    `yaml:"qos"`
}

const (
	defaultLogDir              = "data/logs"
	defaultLogRetentionDays    = 7
	defaultSampleStoreBackend  = "memory"
	defaultSampleStorePath     = "data/samples"
	defaultSampleStoreCacheMB  = 64
	defaultTaper               = 5
	defaultRateToleranceHz     = 0.5
	defaultMaximumSlowness     = 40
	defaultNumberOfPoints      = 81
	defaultLeadFkSpectrumSec   = 1
	defaultFilterType          = "firstP"
	defaultReviewDBPath        = "data/reviews.db"
	defaultReviewSort          = "distance"
	defaultExportDir           = "data/export"
	defaultWorkers             = 4
	defaultMQTTTopicPrefix     = "fkreview"
	defaultMQTTClientID        = "fkreview"
)

var defaultPhasesNeedingReview = []string{"P", "Pn", "Pg", "Pb", "PKP"}

// Purpose: Load configuration from a YAML file or a directory of YAML files.
// Key aspects: Directory files are merged in name order, so later files
// override earlier keys; defaults are applied before validation.
// Upstream: main startup, cmd/sessioncheck.
// Downstream: readMerged, applyDefaults, validate.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config: empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config path: %w", err)
	}

	var files []string
	if info.IsDir() {
		matches, err := filepath.Glob(filepath.Join(path, "*.yaml"))
		if err != nil {
			return nil, fmt.Errorf("failed to list config dir: %w", err)
		}
		yml, _ := filepath.Glob(filepath.Join(path, "*.yml"))
		files = append(matches, yml...)
		sort.Strings(files)
		if len(files) == 0 {
			return nil, fmt.Errorf("config: no YAML files in %s", path)
		}
	} else {
		files = []string{path}
	}

	merged, err := readMerged(files)
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to merge config files: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.LoadedFrom = path
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readMerged deep-merges the top-level maps of each file.
func readMerged(files []string) (map[string]any, error) {
	merged := make(map[string]any)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filepath.Base(f), err)
		}
		mergeMaps(merged, doc)
	}
	return merged, nil
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeMaps(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = defaultLogDir
	}
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = defaultLogRetentionDays
	}

	c.SampleStore.Backend = strings.ToLower(strings.TrimSpace(c.SampleStore.Backend))
	if c.SampleStore.Backend == "" {
		c.SampleStore.Backend = defaultSampleStoreBackend
	}
	if strings.TrimSpace(c.SampleStore.Path) == "" {
		c.SampleStore.Path = defaultSampleStorePath
	}
	if c.SampleStore.CacheSizeMB == 0 {
		c.SampleStore.CacheSizeMB = defaultSampleStoreCacheMB
	}

	if c.Filters.Taper == 0 {
		c.Filters.Taper = defaultTaper
	}
	if c.Filters.SampleRateToleranceHz == 0 {
		c.Filters.SampleRateToleranceHz = defaultRateToleranceHz
	}

	if c.FK.MaximumSlowness == 0 {
		c.FK.MaximumSlowness = defaultMaximumSlowness
	}
	if c.FK.NumberOfPoints == 0 {
		c.FK.NumberOfPoints = defaultNumberOfPoints
	}
	if c.FK.LeadFkSpectrumSeconds == 0 {
		c.FK.LeadFkSpectrumSeconds = defaultLeadFkSpectrumSec
	}
	if len(c.FK.PhasesNeedingReview) == 0 {
		c.FK.PhasesNeedingReview = append([]string(nil), defaultPhasesNeedingReview...)
	}
	if strings.TrimSpace(c.FK.FilterType) == "" {
		c.FK.FilterType = defaultFilterType
	}

	if strings.TrimSpace(c.Review.DBPath) == "" {
		c.Review.DBPath = defaultReviewDBPath
	}
	if strings.TrimSpace(c.Review.Sort) == "" {
		c.Review.Sort = defaultReviewSort
	}

	if strings.TrimSpace(c.Export.Dir) == "" {
		c.Export.Dir = defaultExportDir
	}
	if c.Worker.Workers == 0 {
		c.Worker.Workers = defaultWorkers
	}

	if strings.TrimSpace(c.MQTT.TopicPrefix) == "" {
		c.MQTT.TopicPrefix = defaultMQTTTopicPrefix
	}
	if strings.TrimSpace(c.MQTT.ClientID) == "" {
		c.MQTT.ClientID = defaultMQTTClientID
	}
}

func (c *Config) validate() error {
	switch {
	case c.Logging.RetentionDays < 0:
		return fmt.Errorf("config: logging.retention_days must be >= 0, got %d", c.Logging.RetentionDays)
	case c.SampleStore.CacheSizeMB < 0:
		return fmt.Errorf("config: sample_store.cache_size_mb must be >= 0, got %d", c.SampleStore.CacheSizeMB)
	case c.Filters.Taper < 0:
		return fmt.Errorf("config: filters.taper must be >= 0, got %d", c.Filters.Taper)
	case c.Filters.SampleRateToleranceHz < 0:
		return fmt.Errorf("config: filters.sample_rate_tolerance_hz must be >= 0, got %v", c.Filters.SampleRateToleranceHz)
	case c.FK.MaximumSlowness < 0:
		return fmt.Errorf("config: fk.maximum_slowness must be >= 0, got %v", c.FK.MaximumSlowness)
	case c.FK.NumberOfPoints < 2:
		return fmt.Errorf("config: fk.number_of_points must be >= 2, got %d", c.FK.NumberOfPoints)
	case c.FK.LeadFkSpectrumSeconds < 0:
		return fmt.Errorf("config: fk.lead_fk_spectrum_seconds must be >= 0, got %v", c.FK.LeadFkSpectrumSeconds)
	case c.Worker.Workers < 0:
		return fmt.Errorf("config: worker.workers must be >= 0, got %d", c.Worker.Workers)
	case c.MQTT.QoS < 0 || c.MQTT.QoS > 2:
		return fmt.Errorf("config: mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	switch c.SampleStore.Backend {
	case "memory", "pebble":
	default:
		return fmt.Errorf("config: unknown sample_store.backend %q", c.SampleStore.Backend)
	}
	switch c.Review.Sort {
	case "distance", "stationName":
	default:
		return fmt.Errorf("config: unknown review.sort %q", c.Review.Sort)
	}
	switch c.FK.FilterType {
	case "all", "firstP", "needsReview":
	default:
		return fmt.Errorf("config: unknown fk.filter_type %q", c.FK.FilterType)
	}
	if c.MQTT.Enabled && strings.TrimSpace(c.MQTT.Broker) == "" {
		return fmt.Errorf("config: mqtt.broker is required when mqtt.enabled is set")
	}
	return nil
}

// Print displays the configuration
func (c *Config) Print() {
	if c.LoadedFrom != "" {
		fmt.Printf("Config: %s\n", c.LoadedFrom)
	}
	store := c.SampleStore.Backend
	if store == "pebble" {
		store = fmt.Sprintf("pebble at %s (cache %d MB)", c.SampleStore.Path, c.SampleStore.CacheSizeMB)
	}
	fmt.Printf("Sample store: %s\n", store)
	list := c.Filters.FilterList
	if list == "" {
		list = "none"
	}
	fmt.Printf("Filters: list=%s taper=%d remove_group_delay=%t tolerance=%vHz\n",
		list, c.Filters.Taper, c.Filters.RemoveGroupDelay, c.Filters.SampleRateToleranceHz)
	fmt.Printf("FK: max slowness %v, %d points, lead %vs, review phases %s (filter %s)\n",
		c.FK.MaximumSlowness, c.FK.NumberOfPoints, c.FK.LeadFkSpectrumSeconds,
		strings.Join(c.FK.PhasesNeedingReview, ", "), c.FK.FilterType)
	fmt.Printf("Review: %s (sort by %s)\n", c.Review.DBPath, c.Review.Sort)
	export := c.Export.Dir
	if c.Export.Gzip {
		export += " (gzip)"
	}
	fmt.Printf("Export: %s\n", export)
	workerDesc := "auto"
	if c.Worker.Workers > 0 {
		workerDesc = fmt.Sprintf("%d", c.Worker.Workers)
	}
	fmt.Printf("Workers: %s\n", workerDesc)
	if c.Metrics.Listen != "" {
		fmt.Printf("Metrics: %s/metrics\n", c.Metrics.Listen)
	}
	if c.MQTT.Enabled {
		fmt.Printf("MQTT: %s (topic prefix: %s, qos %d)\n", c.MQTT.Broker, c.MQTT.TopicPrefix, c.MQTT.QoS)
	}
	if c.Logging.Enabled {
		fmt.Printf("Logging: %s (retention %d days)\n", c.Logging.Dir, c.Logging.RetentionDays)
	}
}
