package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bitbuckethooks/models"
)

// Configuration keys. The first six pre-set the values the collector would
// otherwise prompt for.
const (
	KeyAccount         = "BITBUCKET_ACCOUNT"
	KeyHookURL         = "BITBUCKET_POST_HOOK_URL"
	KeyUsername        = "BITBUCKET_USERNAME"
	KeyPassword        = "BITBUCKET_PASSWORD"
	KeyWhitelist       = "BITBUCKET_WHITELIST"
	KeyBlacklist       = "BITBUCKET_BLACKLIST"
	KeyAPIURL          = "BITBUCKET_API_URL"
	KeyHookDescription = "BITBUCKET_HOOK_DESCRIPTION"
	KeyLogLevel        = "LOG_LEVEL"
)

// Defaults
const (
	DefaultAPIURL          = "https://api.bitbucket.org/2.0"
	DefaultHookDescription = "Slack integration"
	DefaultLogLevel        = "warn"
	DefaultConfigFile      = ".env"
)

// Config holds all configuration for the application
type Config struct {
	Account   string
	HookURL   string
	Username  string
	Password  string
	Whitelist string
	Blacklist string

	APIURL          string
	HookDescription string
	LogLevel        string

	v *viper.Viper
}

// NewConfig creates a new Config instance
func NewConfig() *Config {
	v := viper.New()
	v.SetDefault(KeyAPIURL, DefaultAPIURL)
	v.SetDefault(KeyHookDescription, DefaultHookDescription)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	return &Config{v: v}
}

// BindFlags lets command line flags override the environment and the file.
func (c *Config) BindFlags(flags *pflag.FlagSet) error {
	if f := flags.Lookup("log-level"); f != nil {
		if err := c.v.BindPFlag(KeyLogLevel, f); err != nil {
			return fmt.Errorf("failed to bind log-level flag: %w", err)
		}
	}
	return nil
}

// Load loads configuration from the environment and, if it exists, the file
// at path. Environment variables win over the file. None of the values are
// required here; missing credentials are prompted for later.
func (c *Config) Load(path string) error {
	c.v.AutomaticEnv()

	if path != "" {
		c.v.SetConfigFile(path)
		if err := c.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	c.Account = c.get(KeyAccount)
	c.HookURL = c.get(KeyHookURL)
	c.Username = c.get(KeyUsername)
	c.Password = c.get(KeyPassword)
	c.Whitelist = c.get(KeyWhitelist)
	c.Blacklist = c.get(KeyBlacklist)
	c.HookDescription = c.get(KeyHookDescription)
	c.LogLevel = strings.ToLower(c.get(KeyLogLevel))

	c.APIURL = strings.TrimRight(c.get(KeyAPIURL), "/")
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid %s %q", KeyAPIURL, c.APIURL)
	}

	return nil
}

// Credentials returns the pre-set values. Empty fields are prompted for.
func (c *Config) Credentials() models.Credentials {
	return models.Credentials{
		Account:   c.Account,
		HookURL:   c.HookURL,
		Username:  c.Username,
		Password:  c.Password,
		Whitelist: c.Whitelist,
		Blacklist: c.Blacklist,
	}
}

func (c *Config) get(key string) string {
	return strings.TrimSpace(c.v.GetString(key))
}
