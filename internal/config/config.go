package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ExecutableName is the dedicated server binary shipped by the game.
const ExecutableName = "valheim_server.x86_64"

// TypeVanilla marks a server without a mod loader.
const TypeVanilla = "vanilla"

// DefaultConfigFile is used when neither --config nor ODIN_CONFIG_FILE is set.
const DefaultConfigFile = "config.json"

// Config is the persisted odin configuration.
type Config struct {
	WorkingDir             string       `mapstructure:"working_dir"`
	Name                   string       `mapstructure:"name"`
	Port                   int          `mapstructure:"port"`
	World                  string       `mapstructure:"world"`
	Password               string       `mapstructure:"password"`
	Public                 bool         `mapstructure:"public"`
	Type                   string       `mapstructure:"type"`
	ServerExecutable       string       `mapstructure:"server_executable"`
	ExtraLaunchArgs        string       `mapstructure:"extra_launch_args"`
	WebhookURL             string       `mapstructure:"webhook_url"`
	ModsLocation           string       `mapstructure:"mods_location"`
	SaveLocation           string       `mapstructure:"save_location"`
	BepInExLocation        string       `mapstructure:"bepinex_location"`
	DownloadTimeoutSeconds int          `mapstructure:"download_timeout_seconds"`
	Backup                 BackupConfig `mapstructure:"backup"`
}

// BackupConfig selects where snapshots of the save directory are kept.
// Location is a directory for the local provider and a key prefix for the
// object stores.
type BackupConfig struct {
	Provider  string `mapstructure:"provider"`
	Location  string `mapstructure:"location"`
	Retention int    `mapstructure:"retention"`

	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3KeyID    string `mapstructure:"s3_access_key_id"`
	S3Secret   string `mapstructure:"s3_secret_access_key"`

	GCSBucket          string `mapstructure:"gcs_bucket"`
	GCSCredentialsFile string `mapstructure:"gcs_credentials_file"`
	GCSEndpoint        string `mapstructure:"gcs_endpoint"`

	AzureContainer        string `mapstructure:"azure_container"`
	AzureAccount          string `mapstructure:"azure_account"`
	AzureKey              string `mapstructure:"azure_key"`
	AzureConnectionString string `mapstructure:"azure_connection_string"`
	AzureEndpoint         string `mapstructure:"azure_endpoint"`

	B2Bucket string `mapstructure:"b2_bucket"`
	B2KeyID  string `mapstructure:"b2_key_id"`
	B2AppKey string `mapstructure:"b2_application_key"`
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"working_dir":                    "ODIN_WORKING_DIR",
	"name":                           "NAME",
	"port":                           "PORT",
	"world":                          "WORLD",
	"password":                       "PASSWORD",
	"public":                         "PUBLIC",
	"type":                           "TYPE",
	"server_executable":              "SERVER_EXECUTABLE_PATH",
	"extra_launch_args":              "SERVER_EXTRA_LAUNCH_ARGS",
	"webhook_url":                    "WEBHOOK_URL",
	"mods_location":                  "MODS_LOCATION",
	"save_location":                  "SAVE_LOCATION",
	"bepinex_location":               "BEPINEX_LOCATION",
	"download_timeout_seconds":       "DOWNLOAD_TIMEOUT_SECONDS",
	"backup.provider":                "BACKUP_PROVIDER",
	"backup.location":                "BACKUP_LOCATION",
	"backup.retention":               "BACKUP_RETENTION",
	"backup.s3_bucket":               "BACKUP_S3_BUCKET",
	"backup.s3_region":               "BACKUP_S3_REGION",
	"backup.s3_endpoint":             "BACKUP_S3_ENDPOINT",
	"backup.s3_access_key_id":        "BACKUP_S3_ACCESS_KEY_ID",
	"backup.s3_secret_access_key":    "BACKUP_S3_SECRET_ACCESS_KEY",
	"backup.gcs_bucket":              "BACKUP_GCS_BUCKET",
	"backup.gcs_credentials_file":    "BACKUP_GCS_CREDENTIALS_FILE",
	"backup.gcs_endpoint":            "BACKUP_GCS_ENDPOINT",
	"backup.azure_container":         "BACKUP_AZURE_CONTAINER",
	"backup.azure_account":           "BACKUP_AZURE_ACCOUNT",
	"backup.azure_key":               "BACKUP_AZURE_KEY",
	"backup.azure_connection_string": "BACKUP_AZURE_CONNECTION_STRING",
	"backup.azure_endpoint":          "BACKUP_AZURE_ENDPOINT",
	"backup.b2_bucket":               "BACKUP_B2_BUCKET",
	"backup.b2_key_id":               "BACKUP_B2_KEY_ID",
	"backup.b2_application_key":      "BACKUP_B2_APPLICATION_KEY",
}

func Default() *Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &Config{
		WorkingDir:             wd,
		Name:                   "Valheim powered by Odin",
		Port:                   2456,
		World:                  "Dedicated",
		Public:                 true,
		Type:                   TypeVanilla,
		DownloadTimeoutSeconds: 300,
		Backup: BackupConfig{
			Provider:  "local",
			Retention: 7,
		},
	}
}

// FilePath resolves the config file location from the flag value, then
// ODIN_CONFIG_FILE, then DefaultConfigFile.
func FilePath(cfgFile string) string {
	if cfgFile != "" {
		return cfgFile
	}
	if env := os.Getenv("ODIN_CONFIG_FILE"); env != "" {
		return env
	}
	return DefaultConfigFile
}

// Load reads the JSON config file, if present, and applies environment
// overrides on top of the defaults. A missing file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := newViper(cfg)

	v.SetConfigFile(FilePath(cfgFile))
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper(defaults *Config) *viper.Viper {
	v := viper.New()
	for key, value := range settings(defaults) {
		v.SetDefault(key, value)
	}
	for key, env := range envBindings {
		// BindEnv only fails when called without a key.
		_ = v.BindEnv(key, env)
	}
	return v
}

func settings(cfg *Config) map[string]any {
	return map[string]any{
		"working_dir":                    cfg.WorkingDir,
		"name":                           cfg.Name,
		"port":                           cfg.Port,
		"world":                          cfg.World,
		"password":                       cfg.Password,
		"public":                         cfg.Public,
		"type":                           cfg.Type,
		"server_executable":              cfg.ServerExecutable,
		"extra_launch_args":              cfg.ExtraLaunchArgs,
		"webhook_url":                    cfg.WebhookURL,
		"mods_location":                  cfg.ModsLocation,
		"save_location":                  cfg.SaveLocation,
		"bepinex_location":               cfg.BepInExLocation,
		"download_timeout_seconds":       cfg.DownloadTimeoutSeconds,
		"backup.provider":                cfg.Backup.Provider,
		"backup.location":                cfg.Backup.Location,
		"backup.retention":               cfg.Backup.Retention,
		"backup.s3_bucket":               cfg.Backup.S3Bucket,
		"backup.s3_region":               cfg.Backup.S3Region,
		"backup.s3_endpoint":             cfg.Backup.S3Endpoint,
		"backup.s3_access_key_id":        cfg.Backup.S3KeyID,
		"backup.s3_secret_access_key":    cfg.Backup.S3Secret,
		"backup.gcs_bucket":              cfg.Backup.GCSBucket,
		"backup.gcs_credentials_file":    cfg.Backup.GCSCredentialsFile,
		"backup.gcs_endpoint":            cfg.Backup.GCSEndpoint,
		"backup.azure_container":         cfg.Backup.AzureContainer,
		"backup.azure_account":           cfg.Backup.AzureAccount,
		"backup.azure_key":               cfg.Backup.AzureKey,
		"backup.azure_connection_string": cfg.Backup.AzureConnectionString,
		"backup.azure_endpoint":          cfg.Backup.AzureEndpoint,
		"backup.b2_bucket":               cfg.Backup.B2Bucket,
		"backup.b2_key_id":               cfg.Backup.B2KeyID,
		"backup.b2_application_key":      cfg.Backup.B2AppKey,
	}
}

// SaveTo writes cfg as JSON to cfgFile (resolved through FilePath).
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	for key, value := range settings(cfg) {
		v.Set(key, value)
	}

	cfgPath := FilePath(cfgFile)
	if dir := filepath.Dir(cfgPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	v.SetConfigType("json")
	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	// The file may carry the server password.
	return os.Chmod(cfgPath, 0o600)
}

// Vanilla reports whether the server runs without a mod loader.
func (c *Config) Vanilla() bool {
	return strings.EqualFold(strings.TrimSpace(c.Type), TypeVanilla)
}

// Executable returns the configured server binary, defaulting to the one in
// the working directory.
func (c *Config) Executable() string {
	if c.ServerExecutable != "" {
		return c.ServerExecutable
	}
	return filepath.Join(c.WorkingDir, ExecutableName)
}

// Paths resolves the directories derived from the configuration.
func (c *Config) Paths() Paths {
	game := c.WorkingDir
	bepinex := c.BepInExLocation
	if bepinex == "" {
		bepinex = filepath.Join(game, "BepInEx")
	}
	mods := c.ModsLocation
	if mods == "" {
		mods = filepath.Join(game, "mods")
	}
	saves := c.SaveLocation
	if saves == "" {
		saves = filepath.Join(game, "saves")
	}
	return Paths{game: game, bepinex: bepinex, mods: mods, saves: saves}
}

// Paths implements the directory providers used by the mod installer,
// backups and server control.
type Paths struct {
	game    string
	bepinex string
	mods    string
	saves   string
}

func (p Paths) GameDir() string    { return p.game }
func (p Paths) ModsDir() string    { return p.mods }
func (p Paths) BepInExDir() string { return p.bepinex }
func (p Paths) PluginDir() string  { return filepath.Join(p.bepinex, "plugins") }
func (p Paths) ConfigDir() string  { return filepath.Join(p.bepinex, "config") }
func (p Paths) SavesDir() string   { return p.saves }
func (p Paths) LogsDir() string    { return filepath.Join(p.game, "logs") }
