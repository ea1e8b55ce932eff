package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	Paynym PaynymConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// BaseURL is the externally reachable root of this server; the
	// callback URL embedded in every challenge is derived from it.
	BaseURL string `mapstructure:"base_url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type PaynymConfig struct {
	APIURL string `mapstructure:"api_url"`
	Token  string `mapstructure:"token"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("paynym.api_url", "https://paynym.is/api/v1")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":     "PORT",
		"server.base_url": "BASE_URL",
		"redis.addr":      "REDIS_ADDR",
		"redis.password":  "REDIS_PASSWORD",
		"paynym.api_url":  "PAYNYM_API_URL",
		"paynym.token":    "PAYNYM_API_TOKEN",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Server.BaseURL, "BASE_URL"},
		{c.Paynym.APIURL, "PAYNYM_API_URL"},
		{c.Paynym.Token, "PAYNYM_API_TOKEN"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if strings.HasSuffix(c.Server.BaseURL, "/") {
		return fmt.Errorf("BASE_URL must not end with a slash")
	}
	return nil
}

// CallbackURL is the absolute redemption callback embedded in challenges.
func (c *Config) CallbackURL() string {
	return c.Server.BaseURL + "/api/auth47/callback"
}
