package ignore

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	// FileName is the default name of the ignore file
	FileName = ".rlsignore"
)

// fileFormat is the TOML layout of .rlsignore:
//
//	[tables]
//	patterns = ["schema_migrations", "tmp_*", "!tmp_keep"]
//
//	[policies]
//	patterns = ["supabase_*"]
type fileFormat struct {
	Tables   patternSection `toml:"tables,omitempty"`
	Policies patternSection `toml:"policies,omitempty"`
}

type patternSection struct {
	Patterns []string `toml:"patterns,omitempty"`
}

// Load reads the ignore file at path.
// Returns nil if the file doesn't exist (ignore functionality is optional)
func Load(path string) (*Config, error) {
	if path == "" {
		path = FileName
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var f fileFormat
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &Config{
		Tables:   f.Tables.Patterns,
		Policies: f.Policies.Patterns,
	}, nil
}
