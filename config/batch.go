package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default run parameters. Conservative values: the underlying OCR engines are
// documented to over-allocate on constrained hosts, so recycle often.
const (
	DefaultBatchSize         = 20
	DefaultChunkSize         = 100
	DefaultMemoryThresholdMB = 2048
)

// DefaultExtensions 默认支持的图片格式
var DefaultExtensions = []string{"png", "jpg", "jpeg", "bmp", "tiff", "webp"}

// Duration accepts values such as "30s" or "2m" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// BatchConfig 批处理运行配置
type BatchConfig struct {
	// BatchSize is the number of items between memory checks.
	BatchSize int `yaml:"batchSize"`
	// ChunkSize is the number of items sharing one engine handle.
	ChunkSize int `yaml:"chunkSize"`
	// MemoryThresholdMB triggers forced reclamation when process RSS exceeds it.
	MemoryThresholdMB int `yaml:"memoryThresholdMB"`
	// ItemTimeout bounds a single engine call. Zero disables the timeout.
	ItemTimeout Duration `yaml:"itemTimeout"`
	// Extensions is the set of eligible lowercase file suffixes, without dots.
	Extensions []string `yaml:"extensions"`
	// Engine selects the OCR backend: tesseract, textract or pdftext.
	Engine string `yaml:"engine"`
	// Sink selects result persistence: local, s3, minio or none.
	Sink string `yaml:"sink"`
	// OutputDir is the local sink target directory.
	OutputDir string `yaml:"outputDir"`
	// LedgerPath is the progress file location.
	LedgerPath string `yaml:"ledgerPath"`
	// Languages passed to the tesseract engine.
	Languages []string `yaml:"languages"`
}

// DefaultBatchConfig returns the built-in configuration.
func DefaultBatchConfig() *BatchConfig {
	return &BatchConfig{
		BatchSize:         DefaultBatchSize,
		ChunkSize:         DefaultChunkSize,
		MemoryThresholdMB: DefaultMemoryThresholdMB,
		Extensions:        append([]string(nil), DefaultExtensions...),
		Engine:            "tesseract",
		Sink:              "local",
		OutputDir:         "outputs",
		LedgerPath:        "outputs/progress.ndjson",
		Languages:         []string{"eng"},
	}
}

// LoadBatchConfig reads a YAML config file, filling unset fields with
// defaults. A missing file is not an error: the defaults apply.
func LoadBatchConfig(path string) (*BatchConfig, error) {
	cfg := DefaultBatchConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and normalizes extensions to lowercase
// without leading dots.
func (c *BatchConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batchSize must be positive, got %d", c.BatchSize)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunkSize must be positive, got %d", c.ChunkSize)
	}
	if c.MemoryThresholdMB < 0 {
		return fmt.Errorf("memoryThresholdMB must not be negative, got %d", c.MemoryThresholdMB)
	}
	if len(c.Extensions) == 0 {
		return fmt.Errorf("at least one extension is required")
	}
	for i, ext := range c.Extensions {
		c.Extensions[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}
	return nil
}

// ExtensionSet returns the extensions as a lookup set.
func (c *BatchConfig) ExtensionSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Extensions))
	for _, ext := range c.Extensions {
		set[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return set
}

// MemoryThresholdBytes 内存阈值（字节）
func (c *BatchConfig) MemoryThresholdBytes() uint64 {
	return uint64(c.MemoryThresholdMB) * 1024 * 1024
}
