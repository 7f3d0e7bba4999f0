package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// GABConfig holds the address-book pipeline policy toggles. The
// defaults match normal operation; individual stages can be switched
// off for diagnostics.
type GABConfig struct {
	// ProcessFolder enables draining of the update-message folder.
	ProcessFolder bool `mapstructure:"process_folder" yaml:"process_folder"`

	// ProcessItems enables processing of individual update messages.
	ProcessItems bool `mapstructure:"process_items" yaml:"process_items"`

	// CreateContacts enables materializing contacts from updates.
	CreateContacts bool `mapstructure:"create_contacts" yaml:"create_contacts"`

	// ClearContacts enables clearing existing records sharing an
	// origin id before a contact is recreated.
	ClearContacts bool `mapstructure:"clear_contacts" yaml:"clear_contacts"`

	// CreateGroups enables materializing groups from updates.
	CreateGroups bool `mapstructure:"create_groups" yaml:"create_groups"`

	// GroupMembers enables resolving and attaching group members.
	GroupMembers bool `mapstructure:"group_members" yaml:"group_members"`

	// NestedGroups enables linking a group as a member of another group.
	NestedGroups bool `mapstructure:"nested_groups" yaml:"nested_groups"`

	// SMTPGroupsAsContacts materializes groups carrying an SMTP
	// address as contacts instead.
	SMTPGroupsAsContacts bool `mapstructure:"smtp_groups_as_contacts" yaml:"smtp_groups_as_contacts"`

	// SyncFaxNumbers enables fax-number materialization. Off by
	// default: mail clients tend to interpret them as addresses.
	SyncFaxNumbers bool `mapstructure:"sync_fax_numbers" yaml:"sync_fax_numbers"`

	// DeleteExistingFolder deletes a domain's backing folder before a
	// full resync rebuilds it.
	DeleteExistingFolder bool `mapstructure:"delete_existing_folder" yaml:"delete_existing_folder"`

	// CheckUnused enables the sweep removing address-book folders
	// whose domain no longer has a live account.
	CheckUnused bool `mapstructure:"check_unused" yaml:"check_unused"`

	// EmptyTrash purges tombstoned records after deletions.
	EmptyTrash bool `mapstructure:"empty_trash" yaml:"empty_trash"`

	// SuppressModifications intercepts local edits to synchronized
	// records outside of pipeline writes.
	SuppressModifications bool `mapstructure:"suppress_modifications" yaml:"suppress_modifications"`
}

// SyncStateConfig holds the progress coordinator's cadences and checks.
type SyncStateConfig struct {
	// CheckPeriodSync is the poll period while a sync is in progress.
	CheckPeriodSync time.Duration `mapstructure:"check_period_sync" yaml:"check_period_sync"`

	// CheckPeriodDialogSync is the poll period while a sync is in
	// progress and the progress dialog is open.
	CheckPeriodDialogSync time.Duration `mapstructure:"check_period_dialog_sync" yaml:"check_period_dialog_sync"`

	// CheckPeriodDialogNoSync is the poll period while idle with the
	// progress dialog open.
	CheckPeriodDialogNoSync time.Duration `mapstructure:"check_period_dialog_no_sync" yaml:"check_period_dialog_no_sync"`

	// CheckStall enables stalled-synchronization detection.
	CheckStall bool `mapstructure:"check_stall" yaml:"check_stall"`

	// StallPeriod is how long the last-sync time must sit still before
	// a stall is reported. The check runs on poll cycles, so the
	// effective period can be longer.
	StallPeriod time.Duration `mapstructure:"stall_period" yaml:"stall_period"`

	// CheckStoreSize enables the once-per-account store-size advisory.
	CheckStoreSize bool `mapstructure:"check_store_size" yaml:"check_store_size"`
}

// Config is the top-level engine configuration.
type Config struct {
	// DBPath locates the local address-book database.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// LogLevel is a logrus level name ("info", "debug", ...).
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	Accounts  []Account       `mapstructure:"accounts" yaml:"accounts"`
	GAB       GABConfig       `mapstructure:"gab" yaml:"gab"`
	SyncState SyncStateConfig `mapstructure:"sync_state" yaml:"sync_state"`
}

// DefaultConfigPath returns the default configuration file location,
// ~/.config/gwsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "gwsync", "config.yaml")
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		DBPath:   defaultDBPath(),
		LogLevel: "info",
		GAB: GABConfig{
			ProcessFolder:         true,
			ProcessItems:          true,
			CreateContacts:        true,
			ClearContacts:         true,
			CreateGroups:          true,
			GroupMembers:          true,
			NestedGroups:          true,
			DeleteExistingFolder:  true,
			CheckUnused:           true,
			EmptyTrash:            true,
			SuppressModifications: true,
		},
		SyncState: SyncStateConfig{
			CheckPeriodSync:         time.Minute,
			CheckPeriodDialogSync:   30 * time.Second,
			CheckPeriodDialogNoSync: 5 * time.Minute,
			CheckStall:              true,
			StallPeriod:             10 * time.Minute,
			CheckStoreSize:          true,
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "gwsync.db")
	}
	return filepath.Join(home, ".config", "gwsync", "gwsync.db")
}

// LoadConfig reads configuration from the given YAML file path using
// Viper. If the file does not exist, it returns the defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("log_level", "info")
	v.SetDefault("gab.process_folder", true)
	v.SetDefault("gab.process_items", true)
	v.SetDefault("gab.create_contacts", true)
	v.SetDefault("gab.clear_contacts", true)
	v.SetDefault("gab.create_groups", true)
	v.SetDefault("gab.group_members", true)
	v.SetDefault("gab.nested_groups", true)
	v.SetDefault("gab.delete_existing_folder", true)
	v.SetDefault("gab.check_unused", true)
	v.SetDefault("gab.empty_trash", true)
	v.SetDefault("gab.suppress_modifications", true)
	v.SetDefault("sync_state.check_period_sync", time.Minute)
	v.SetDefault("sync_state.check_period_dialog_sync", 30*time.Second)
	v.SetDefault("sync_state.check_period_dialog_no_sync", 5*time.Minute)
	v.SetDefault("sync_state.check_stall", true)
	v.SetDefault("sync_state.stall_period", 10*time.Minute)
	v.SetDefault("sync_state.check_store_size", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return DefaultConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Accounts without an explicit id default to their address.
	for i := range cfg.Accounts {
		if cfg.Accounts[i].ID == "" {
			cfg.Accounts[i].ID = AccountID(cfg.Accounts[i].Email)
		}
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file at path, creating
// parent directories if needed.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("db_path", cfg.DBPath)
	v.Set("log_level", cfg.LogLevel)
	v.Set("accounts", cfg.Accounts)
	v.Set("gab", cfg.GAB)
	v.Set("sync_state", cfg.SyncState)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
