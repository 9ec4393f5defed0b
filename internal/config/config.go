// Package config provides configuration management for the shuttle CLI.
//
// Configuration is assembled from three layers, lowest priority first:
// built-in defaults, the INI settings file (paths/settings/scanning/
// logging/notifications sections), and command-line flags, which are
// applied on top by the caller (see cmd/shuttle/cmd).
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/encoding/ini"
	"github.com/spf13/viper"
)

// Config holds the fully resolved shuttle configuration.
type Config struct {
	Paths         PathsConfig         `mapstructure:"paths"`
	Settings      SettingsConfig      `mapstructure:"settings"`
	Scanning      ScanningConfig      `mapstructure:"scanning"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Notifications NotificationsConfig `mapstructure:"notifications"`

	// ConfigFile is the path to the settings file actually used (set at
	// load time, not read from it).
	ConfigFile string `mapstructure:"-"`
}

// PathsConfig holds the filesystem locations the pipeline operates on.
type PathsConfig struct {
	SourcePath              string `mapstructure:"source_path"`
	DestinationPath         string `mapstructure:"destination_path"`
	QuarantinePath          string `mapstructure:"quarantine_path"`
	HazardArchivePath       string `mapstructure:"hazard_archive_path"`
	HazardEncryptionKeyPath string `mapstructure:"hazard_encryption_key_path"`
	LockFile                string `mapstructure:"lock_file"`
	LedgerFilePath          string `mapstructure:"ledger_file_path"`
	TrackerDirectory        string `mapstructure:"tracker_directory"`
}

// SettingsConfig holds general run behavior.
type SettingsConfig struct {
	DeleteSourceFilesAfterCopying bool `mapstructure:"delete_source_files_after_copying"`
	MaxScanThreads                int  `mapstructure:"max_scan_threads"`
	SkipStabilityCheck            bool `mapstructure:"skip_stability_check"`
	StabilityWindowSeconds        int  `mapstructure:"stability_window_seconds"`
	DefenderHandlesSuspectFiles   bool `mapstructure:"defender_handles_suspect_files"`
	StatusLogInterval             int  `mapstructure:"status_log_interval"`

	Throttle                      bool  `mapstructure:"throttle"`
	ThrottleFreeSpaceMB           int64 `mapstructure:"throttle_free_space_mb"`
	ThrottleMaxFileCountPerRun    int64 `mapstructure:"throttle_max_file_count_per_run"`
	ThrottleMaxFileVolumePerRunMB int64 `mapstructure:"throttle_max_file_volume_per_run_mb"`
	ThrottleMaxFileCountPerDay    int64 `mapstructure:"throttle_max_file_count_per_day"`
	ThrottleMaxFileVolumePerDayMB int64 `mapstructure:"throttle_max_file_volume_per_day_mb"`

	// ThrottleRateMBPerSec smooths quarantine-copy I/O to at most this
	// many megabytes per second. Zero (the default) leaves copies
	// unthrottled; the run/day budgets above bound total admission, this
	// bounds instantaneous throughput.
	ThrottleRateMBPerSec int64 `mapstructure:"throttle_rate_mb_per_sec"`
}

// ScanningConfig holds scanner selection and timeout policy.
type ScanningConfig struct {
	OnDemandDefender bool `mapstructure:"on_demand_defender"`
	OnDemandClamAV   bool `mapstructure:"on_demand_clam_av"`

	MalwareScanTimeoutSeconds   int     `mapstructure:"malware_scan_timeout_seconds"`
	MalwareScanTimeoutMsPerByte float64 `mapstructure:"malware_scan_timeout_ms_per_byte"`
	MalwareScanRetryWaitSeconds int     `mapstructure:"malware_scan_retry_wait_seconds"`
	MalwareScanRetryCount       int     `mapstructure:"malware_scan_retry_count"`

	DefenderCommand string `mapstructure:"defender_command"`
	ClamAVCommand   string `mapstructure:"clamav_command"`
	SkipLedgerCheck bool   `mapstructure:"skip_ledger_check"`

	// IncludePatterns/ExcludePatterns are comma-separated regexes
	// applied to each candidate's path during enumeration, ahead of the
	// stability gate and throttle controller. Empty IncludePatterns
	// admits everything not matched by ExcludePatterns.
	IncludePatterns string `mapstructure:"include_patterns"`
	ExcludePatterns string `mapstructure:"exclude_patterns"`
}

// LoggingConfig holds logging destination and verbosity.
type LoggingConfig struct {
	LogPath  string `mapstructure:"log_path"`
	LogLevel string `mapstructure:"log_level"`
	Debug    bool   `mapstructure:"debug"`
	Verbose  bool   `mapstructure:"verbose"`
	Quiet    bool   `mapstructure:"quiet"`
	NoColor  bool   `mapstructure:"no_color"`
}

// NotificationsConfig holds email notification delivery settings.
type NotificationsConfig struct {
	Notify                bool   `mapstructure:"notify"`
	RecipientEmail        string `mapstructure:"recipient_email"`
	RecipientEmailError   string `mapstructure:"recipient_email_error"`
	RecipientEmailSummary string `mapstructure:"recipient_email_summary"`
	RecipientEmailHazard  string `mapstructure:"recipient_email_hazard"`
	SenderEmail           string `mapstructure:"sender_email"`
	SMTPServer            string `mapstructure:"smtp_server"`
	SMTPPort              int    `mapstructure:"smtp_port"`
	Username              string `mapstructure:"username"`
	Password              string `mapstructure:"password"`
	UseTLS                bool   `mapstructure:"use_tls"`
}

// DefaultConfig returns the built-in defaults, applied before the settings
// file and command-line flags.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			LockFile: "/tmp/shuttle.lock",
		},
		Settings: SettingsConfig{
			MaxScanThreads:         1,
			StabilityWindowSeconds: 5,
			StatusLogInterval:      50,
		},
		Scanning: ScanningConfig{
			MalwareScanRetryCount: 0,
			DefenderCommand:       "mdatp",
			ClamAVCommand:         "clamscan",
		},
		Logging: LoggingConfig{
			LogLevel: "INFO",
		},
	}
}

// DefaultConfigPath returns the default settings file location.
func DefaultConfigPath() string {
	return "/etc/shuttle/shuttle.ini"
}

// Load loads configuration from the settings file (INI, sections paths/
// settings/scanning/logging/notifications) layered on top of the built-in
// defaults. Command-line flags are applied by the caller afterward.
func Load(settingsPath string) (*Config, error) {
	codecRegistry := viper.NewCodecRegistry()
	if err := codecRegistry.RegisterCodec("ini", ini.Codec{}); err != nil {
		return nil, fmt.Errorf("registering INI codec: %w", err)
	}

	v := viper.NewWithOptions(
		viper.WithCodecRegistry(codecRegistry),
	)

	applyDefaults(v, DefaultConfig())

	v.SetEnvPrefix("SHUTTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if settingsPath != "" {
		v.SetConfigFile(settingsPath)
	} else {
		v.AddConfigPath("/etc/shuttle")
		v.AddConfigPath(".")
		v.SetConfigName("shuttle")
		v.SetConfigType("ini")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			if settingsPath != "" {
				return nil, fmt.Errorf("reading settings file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}

	cfg.ConfigFile = v.ConfigFileUsed()

	// The INI codec occasionally fails to surface deeply nested section
	// keys through viper's unmarshal path (observed with the source_path
	// key in particular); fall back to a direct scan of the file for any
	// field that came back empty but was present on disk.
	if cfg.ConfigFile != "" {
		fillMissingFromRawINI(&cfg, cfg.ConfigFile)
	}

	return &cfg, nil
}

func applyDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("paths.lock_file", d.Paths.LockFile)
	v.SetDefault("settings.max_scan_threads", d.Settings.MaxScanThreads)
	v.SetDefault("settings.stability_window_seconds", d.Settings.StabilityWindowSeconds)
	v.SetDefault("settings.status_log_interval", d.Settings.StatusLogInterval)
	v.SetDefault("scanning.malware_scan_retry_count", d.Scanning.MalwareScanRetryCount)
	v.SetDefault("scanning.defender_command", d.Scanning.DefenderCommand)
	v.SetDefault("scanning.clamav_command", d.Scanning.ClamAVCommand)
	v.SetDefault("logging.log_level", d.Logging.LogLevel)
}

// Validate rejects contradictory or incomplete configuration combinations
// that would otherwise surface as confusing failures mid-run.
func (c *Config) Validate() error {
	if c.Paths.SourcePath == "" {
		return fmt.Errorf("source_path is required")
	}
	if c.Paths.DestinationPath == "" {
		return fmt.Errorf("destination_path is required")
	}
	if c.Paths.QuarantinePath == "" {
		return fmt.Errorf("quarantine_path is required")
	}
	if c.Paths.HazardArchivePath != "" && c.Paths.HazardEncryptionKeyPath == "" {
		return fmt.Errorf("hazard_archive_path requires hazard_encryption_key_path")
	}
	if c.Paths.HazardEncryptionKeyPath != "" && c.Paths.HazardArchivePath == "" {
		return fmt.Errorf("hazard_encryption_key_path requires hazard_archive_path")
	}
	if !c.Scanning.OnDemandDefender && !c.Scanning.OnDemandClamAV {
		return fmt.Errorf("at least one of on_demand_defender or on_demand_clam_av must be enabled")
	}
	if c.Settings.MaxScanThreads < 1 {
		return fmt.Errorf("max_scan_threads must be >= 1")
	}
	if c.Settings.DefenderHandlesSuspectFiles && c.Paths.HazardArchivePath != "" {
		return fmt.Errorf("defender_handles_suspect_files and hazard archiving are mutually exclusive")
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// fillMissingFromRawINI patches empty string fields that have a
// corresponding non-empty value in the raw file, working around cases
// where the INI codec's section handling drops a key during unmarshal.
func fillMissingFromRawINI(cfg *Config, path string) {
	if cfg.Paths.SourcePath == "" {
		if val, err := parseINIValue(path, "paths", "source_path"); err == nil && val != "" {
			cfg.Paths.SourcePath = val
		}
	}
	if cfg.Paths.DestinationPath == "" {
		if val, err := parseINIValue(path, "paths", "destination_path"); err == nil && val != "" {
			cfg.Paths.DestinationPath = val
		}
	}
	if cfg.Paths.QuarantinePath == "" {
		if val, err := parseINIValue(path, "paths", "quarantine_path"); err == nil && val != "" {
			cfg.Paths.QuarantinePath = val
		}
	}
}

// parseINIValue scans an INI file for key within the given section,
// tolerating quoting conventions viper's codec also accepts.
func parseINIValue(configFile, section, key string) (string, error) {
	file, err := os.Open(configFile) //nolint:gosec // configFile is the resolved settings path
	if err != nil {
		return "", fmt.Errorf("opening settings file: %w", err)
	}
	defer func() { _ = file.Close() }()

	currentSection := ""
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			currentSection = strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(line, "["), "]"))
			continue
		}

		if currentSection != section {
			continue
		}

		if !strings.Contains(line, "=") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		k := strings.TrimSpace(parts[0])
		if k != key {
			continue
		}

		v := strings.TrimSpace(parts[1])
		if (strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`)) ||
			(strings.HasPrefix(v, `'`) && strings.HasSuffix(v, `'`)) {
			v = v[1 : len(v)-1]
		}
		return v, nil
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scanning settings file: %w", err)
	}
	return "", nil
}
