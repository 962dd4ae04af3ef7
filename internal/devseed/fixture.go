package devseed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/icza/dyno"
	"gopkg.in/yaml.v2"
)

// RecordEntry describes a key/value pair to commit into the mock store.
type RecordEntry struct {
	Key   any `json:"key"`
	Value any `json:"value"`
}

// FlagOverrides names the control flags a fixture changes. Nil fields keep
// their defaults.
type FlagOverrides struct {
	CanOpenDB         *bool `json:"canOpenDB,omitempty"`
	OpenDBShouldBlock *bool `json:"openDBShouldBlock,omitempty"`
	OpenDBShouldAbort *bool `json:"openDBShouldAbort,omitempty"`
	UpgradeNeeded     *bool `json:"upgradeNeeded,omitempty"`
	CanReadDB         *bool `json:"canReadDB,omitempty"`
	CanSave           *bool `json:"canSave,omitempty"`
	CanDelete         *bool `json:"canDelete,omitempty"`
	CanClear          *bool `json:"canClear,omitempty"`
	CanCreateStore    *bool `json:"canCreateStore,omitempty"`
	CanDeleteDB       *bool `json:"canDeleteDB,omitempty"`
}

// Fixture is the content of a seed file.
type Fixture struct {
	Records []RecordEntry  `json:"records"`
	Flags   *FlagOverrides `json:"flags,omitempty"`
}

// LoadFixture reads seed data from disk. Files ending in .yaml or .yml are
// parsed as YAML, anything else as JSON. The document is either an array of
// records or an object with "records" and "flags".
func LoadFixture(path string) (*Fixture, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("devseed: read fixture: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("devseed: decode yaml fixture: %w", err)
		}
	}
	return ParseFixture(data)
}

// ParseFixture decodes JSON fixture data.
func ParseFixture(data []byte) (*Fixture, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &Fixture{}, nil
	}
	fx := &Fixture{}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &fx.Records); err != nil {
			return nil, fmt.Errorf("devseed: decode fixture records: %w", err)
		}
		return fx, nil
	}
	if err := json.Unmarshal(trimmed, fx); err != nil {
		return nil, fmt.Errorf("devseed: decode fixture: %w", err)
	}
	return fx, nil
}

// yamlToJSON converts YAML to JSON so both formats share one decoder.
func yamlToJSON(data []byte) ([]byte, error) {
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	if generic == nil {
		return nil, nil
	}
	return json.Marshal(dyno.ConvertMapI2MapS(generic))
}
