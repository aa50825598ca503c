// Package config loads the single configuration document daemon startup
// reads: a YAconfig document overlaid by PATH_TO_KEY=value environment
// variables and --path.to.key=value flags, using cristalhq/aconfig the way
// the teacher's own go.mod already commits to it.
package config

import (
	"fmt"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
)

// Load reads path (if it exists) plus the process environment and argv into
// a Struct. path may be empty, in which case only env/flags are consulted.
func Load(path string, args []string) (*Struct, error) {
	var cfg Struct

	files := []string{}
	if path != "" {
		files = append(files, path)
	}

	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipDefaults: false,
		SkipFiles:    len(files) == 0,
		SkipEnv:      false,
		SkipFlags:    false,
		Files:        files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
			".yml":  aconfigyaml.New(),
		},
		Args: args,
	})

	if err := loader.Load(); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if cfg.DbConfig.DbType == "" || cfg.DbConfig.ConnectionString == "" {
		return nil, fmt.Errorf("missing required configuration section %q", "dbConfig")
	}

	return &cfg, nil
}
