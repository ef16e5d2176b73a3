package core

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName      string
		Build        string
		Env          string `validate:"oneof=DEV TEST QA PROD"`
		Debug        bool
		TestMode     bool
		SecretKey    string `validate:"required"`
		RollbarToken string
		WorkDir      string

		Server   ServerConfig
		Database DatabaseConfig
		Cache    CacheConfig
	}

	ServerConfig struct {
		Addr               string `validate:"required"`
		DebugHost          string
		Host               string
		ShutdownTimeout    time.Duration `validate:"gt=0"`
		JWTExpirationDelta time.Duration `validate:"gt=0"`
		DisableReqLogs     bool
	}

	DatabaseConfig struct {
		Engine        string `validate:"required"`
		Host          string `validate:"required"`
		Port          string
		Name          string `validate:"required"`
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		LogQueries    bool
	}

	// CacheConfig holds the defaults applied to every entity cache.
	CacheConfig struct {
		FlushInterval time.Duration `validate:"gt=0"`
		BatchSize     int           `validate:"min=1"`
		HistorySize   int           `validate:"min=0"`
		DrainTimeout  time.Duration `validate:"gt=0"` // bounds the drain on shutdown
	}
)

func (dbc DatabaseConfig) Address() string {
	if dbc.Port == "" {
		return dbc.Host
	}
	return net.JoinHostPort(dbc.Host, dbc.Port)
}

// NewConfig loads the configuration from (in order of precedence):
// env vars, config/.env.<env>, config/*.json and the defaults below.
func NewConfig() *Config {
	conf, err := LoadConfig(filepath.Join(Getwd(), "config"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return conf
}

// LoadConfig is NewConfig with an explicit config directory.
func LoadConfig(configDir string) (*Config, error) {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Campus")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.disableReqLogs", false)

	v.SetDefault("db.engine", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.name", "campus")
	v.SetDefault("db.user", "campus")
	v.SetDefault("db.password", "")
	v.SetDefault("db.adminUser", "")
	v.SetDefault("db.adminPassword", "")
	v.SetDefault("db.disableTLS", true)
	v.SetDefault("db.logQueries", false)

	v.SetDefault("cache.flushInterval", 250*time.Millisecond)
	v.SetDefault("cache.batchSize", 50)
	v.SetDefault("cache.historySize", 1024)
	v.SetDefault("cache.drainTimeout", 30*time.Second)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := mergeJSONFiles(v, configDir); err != nil {
		return nil, err
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(configDir, ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, fmt.Errorf("godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		AppName:      v.GetString("appName"),
		Build:        v.GetString("build"),
		Env:          env,
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		SecretKey:    v.GetString("secretKey"),
		RollbarToken: v.GetString("rollbarToken"),
		WorkDir:      filepath.Dir(configDir),
		Server: ServerConfig{
			Addr:               v.GetString("server.addr"),
			DebugHost:          v.GetString("server.debugHost"),
			Host:               v.GetString("server.host"),
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
			DisableReqLogs:     v.GetBool("server.disableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("db.engine"),
			Host:          v.GetString("db.host"),
			Port:          v.GetString("db.port"),
			Name:          v.GetString("db.name"),
			User:          v.GetString("db.user"),
			Password:      v.GetString("db.password"),
			AdminUser:     v.GetString("db.adminUser"),
			AdminPassword: v.GetString("db.adminPassword"),
			DisableTLS:    v.GetBool("db.disableTLS"),
			LogQueries:    v.GetBool("db.logQueries"),
		},
		Cache: CacheConfig{
			FlushInterval: v.GetDuration("cache.flushInterval"),
			BatchSize:     v.GetInt("cache.batchSize"),
			HistorySize:   v.GetInt("cache.historySize"),
			DrainTimeout:  v.GetDuration("cache.drainTimeout"),
		},
	}
	if err := NewValidate().Struct(conf); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return conf, nil
}

// mergeJSONFiles merges every `<name>.json` of dir (samples excluded) under the `<name>` key.
func mergeJSONFiles(v *viper.Viper, dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("listing %s: %v", dir, err)
	}
	for _, path := range paths {
		fname := filepath.Base(path)
		if strings.HasSuffix(fname, ".sample.json") {
			continue
		}
		name := strings.TrimSuffix(fname, ".json")

		sub := viper.New()
		sub.SetConfigFile(path)
		sub.SetConfigType("json")
		if err := sub.ReadInConfig(); err != nil {
			return fmt.Errorf("%s contains invalid JSON: %v", path, err)
		}
		if err := v.MergeConfigMap(map[string]interface{}{name: sub.AllSettings()}); err != nil {
			return fmt.Errorf("merging %s: %v", path, err)
		}
	}
	return nil
}
