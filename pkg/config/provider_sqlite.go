package config

import (
	"database/sql"
	"embed"
	"fmt"
	"strconv"

	"github.com/chrissnell/scalebridge/pkg/migrate"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SchemaMigrator returns a migrator for the configuration schema of db.
func SchemaMigrator(db *sql.DB, opts ...migrate.Option) *migrate.Migrator {
	return migrate.NewMigrator(db, migrate.NewFSProvider(migrations, "migrations", "config_schema_migrations"), opts...)
}

// SQLiteProvider implements ConfigProvider for SQLite database configuration.
// Settings live in a single section/key/value table so that a management
// tool can change one value without rewriting a file.
type SQLiteProvider struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteProvider creates a new SQLite configuration provider, bringing
// the schema up to date first.
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	if err := SchemaMigrator(db).MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate config schema: %w", err)
	}

	return &SQLiteProvider{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// LoadConfig loads the complete configuration from SQLite database
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	rows, err := s.db.Query(`SELECT section, key, value FROM config_items`)
	if err != nil {
		return nil, fmt.Errorf("failed to query config items: %w", err)
	}
	defer rows.Close()

	index := settingsIndex()
	cfg := &ConfigData{}
	for rows.Next() {
		var section, key, value string
		if err := rows.Scan(&section, &key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}
		st, ok := index[section+"."+key]
		if !ok {
			return nil, fmt.Errorf("unknown configuration key %s.%s", section, key)
		}
		if err := st.set(cfg, value); err != nil {
			return nil, fmt.Errorf("invalid value for %s.%s: %w", section, key, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return finish(cfg)
}

// SaveConfig replaces the stored configuration with cfg. Zero values are not
// stored, so they fall back to defaults on load.
func (s *SQLiteProvider) SaveConfig(cfg *ConfigData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM config_items`); err != nil {
		return fmt.Errorf("failed to clear config items: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO config_items (section, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range settings {
		v := st.get(cfg)
		if v == "" {
			continue
		}
		if _, err := stmt.Exec(st.section, st.key, v); err != nil {
			return fmt.Errorf("failed to store %s.%s: %w", st.section, st.key, err)
		}
	}

	return tx.Commit()
}

// IsReadOnly returns false since SQLite supports writes
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the database connection
func (s *SQLiteProvider) Close() error {
	return s.db.Close()
}

type setting struct {
	section string
	key     string
	get     func(*ConfigData) string
	set     func(*ConfigData, string) error
}

var settings = []setting{
	stringSetting("device", "name", func(c *ConfigData) *string { return &c.Device.Name }),
	stringSetting("device", "protocol", func(c *ConfigData) *string { return &c.Device.Protocol }),
	stringSetting("device", "serial_device", func(c *ConfigData) *string { return &c.Device.SerialDevice }),
	stringSetting("device", "discover_match", func(c *ConfigData) *string { return &c.Device.DiscoverMatch }),
	intSetting("device", "baud", func(c *ConfigData) *int { return &c.Device.Baud }),
	stringSetting("device", "hostname", func(c *ConfigData) *string { return &c.Device.Hostname }),
	stringSetting("device", "port", func(c *ConfigData) *string { return &c.Device.Port }),
	stringSetting("device", "frame_start", func(c *ConfigData) *string { return &c.Device.FrameStart }),
	stringSetting("device", "frame_end", func(c *ConfigData) *string { return &c.Device.FrameEnd }),
	intSetting("device", "max_frame_bytes", func(c *ConfigData) *int { return &c.Device.MaxFrameBytes }),
	durationSetting("device", "idle_timeout", func(c *ConfigData) *Duration { return &c.Device.IdleTimeout }),
	durationSetting("backoff", "initial", func(c *ConfigData) *Duration { return &c.Device.Backoff.Initial }),
	durationSetting("backoff", "max", func(c *ConfigData) *Duration { return &c.Device.Backoff.Max }),
	floatSetting("backoff", "multiplier", func(c *ConfigData) *float64 { return &c.Device.Backoff.Multiplier }),
	boolSetting("backoff", "disable_jitter", func(c *ConfigData) *bool { return &c.Device.Backoff.DisableJitter }),

	stringSetting("server", "listen_addr", func(c *ConfigData) *string { return &c.Server.ListenAddr }),
	intSetting("server", "port", func(c *ConfigData) *int { return &c.Server.Port }),
	stringSetting("server", "cert", func(c *ConfigData) *string { return &c.Server.Cert }),
	stringSetting("server", "key", func(c *ConfigData) *string { return &c.Server.Key }),
	boolSetting("server", "grpc_enabled", func(c *ConfigData) *bool { return &c.Server.GRPCEnabled }),
	stringSetting("server", "static_dir", func(c *ConfigData) *string { return &c.Server.StaticDir }),

	intSetting("hub", "queue_size", func(c *ConfigData) *int { return &c.Hub.QueueSize }),
	stringSetting("hub", "overflow_policy", func(c *ConfigData) *string { return &c.Hub.OverflowPolicy }),

	boolSetting("logging", "debug", func(c *ConfigData) *bool { return &c.Logging.Debug }),
	stringSetting("logging", "file", func(c *ConfigData) *string { return &c.Logging.File }),
	intSetting("logging", "max_size_mb", func(c *ConfigData) *int { return &c.Logging.MaxSizeMB }),
	intSetting("logging", "max_backups", func(c *ConfigData) *int { return &c.Logging.MaxBackups }),
	intSetting("logging", "max_age_days", func(c *ConfigData) *int { return &c.Logging.MaxAgeDays }),
}

func settingsIndex() map[string]setting {
	idx := make(map[string]setting, len(settings))
	for _, st := range settings {
		idx[st.section+"."+st.key] = st
	}
	return idx
}

func stringSetting(section, key string, field func(*ConfigData) *string) setting {
	return setting{
		section: section,
		key:     key,
		get:     func(c *ConfigData) string { return *field(c) },
		set: func(c *ConfigData, v string) error {
			*field(c) = v
			return nil
		},
	}
}

func intSetting(section, key string, field func(*ConfigData) *int) setting {
	return setting{
		section: section,
		key:     key,
		get: func(c *ConfigData) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.Itoa(*field(c))
		},
		set: func(c *ConfigData, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*field(c) = n
			return nil
		},
	}
}

func floatSetting(section, key string, field func(*ConfigData) *float64) setting {
	return setting{
		section: section,
		key:     key,
		get: func(c *ConfigData) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatFloat(*field(c), 'g', -1, 64)
		},
		set: func(c *ConfigData, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			*field(c) = f
			return nil
		},
	}
}

func boolSetting(section, key string, field func(*ConfigData) *bool) setting {
	return setting{
		section: section,
		key:     key,
		get: func(c *ConfigData) string {
			if !*field(c) {
				return ""
			}
			return "true"
		},
		set: func(c *ConfigData, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*field(c) = b
			return nil
		},
	}
}

func durationSetting(section, key string, field func(*ConfigData) *Duration) setting {
	return setting{
		section: section,
		key:     key,
		get:     func(c *ConfigData) string { return field(c).String() },
		set: func(c *ConfigData, v string) error {
			d, err := ParseDuration(v)
			if err != nil {
				return err
			}
			*field(c) = d
			return nil
		},
	}
}
