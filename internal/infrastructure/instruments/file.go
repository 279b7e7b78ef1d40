package instruments

import (
	"context"
	"fmt"
	"os"

	trading "algotrader/internal/domain/entity/trading"

	"gopkg.in/yaml.v2"
)

// fileDocument is the YAML layout of an instruments file.
type fileDocument struct {
	Instruments []trading.InstrumentConfig `yaml:"instruments"`
}

// FileRepository reads instrument configuration from a YAML file. The file
// is re-read on every ListConfigs call.
type FileRepository struct {
	path string
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

func (r *FileRepository) ListConfigs(_ context.Context) ([]trading.InstrumentConfig, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read instruments file: %w", err)
	}
	return ParseYAML(data)
}

func (r *FileRepository) Close() {}

// ParseYAML decodes either a top-level list or an `instruments:` document.
func ParseYAML(data []byte) ([]trading.InstrumentConfig, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Instruments) > 0 {
		return doc.Instruments, nil
	}
	var list []trading.InstrumentConfig
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode instruments yaml: %w", err)
	}
	return list, nil
}
