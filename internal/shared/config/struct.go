package config

// Struct is the full configuration document. Field names map to dotted keys
// (DbConfig.DbType -> dbConfig.dbType) for both the YAML document and the
// --path.to.key=value CLI flag form.
type Struct struct {
	DbConfig struct {
		DbType           string `default:"" usage:"Postgres, MySql, or MariaDB"`
		ConnectionString string `default:"" usage:"dialect-specific connection URI"`
		Migrate          struct {
			Verbose bool `default:"false"`
		}
	}

	// Sources holds one nested section per adapter instance, keyed by the
	// operator-chosen instance name. The YAML file decoder populates this
	// map directly since its shape can't be known at struct-tag time;
	// flag/env are disabled for it because aconfig can only flatten
	// statically declared fields.
	Sources map[string]map[string]string `flag:"-" env:"-"`

	Log struct {
		Level   string `default:"info" usage:"zerolog level name"`
		Pretty  bool   `default:"true"`
		NoColor bool   `default:"false"`
		File    string `default:"" usage:"optional log file path"`
	}

	IgnoreList []string `default:"" usage:"canonical ckeys to silently drop from every adapter"`
}
