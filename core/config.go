package core

import (
	"log"
	"net/http"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName  string
		Env      string // DEV (default) | TEST | QA | PROD
		Build    string
		Debug    bool
		TestMode bool
		WorkDir  string

		SecretKey        []byte
		FrontendBaseURL  string
		DefaultFromEmail mail.Address

		SendgridAPIKey string
		RollbarToken   string

		Server   ServerConfig
		Database DatabaseConfig
	}

	ServerConfig struct {
		Host            string
		Addr            string
		DebugHost       string
		ShutdownTimeout time.Duration

		AccessTokenTTL  time.Duration
		RefreshTokenTTL time.Duration
		InviteTokenTTL  time.Duration

		// refresh cookie
		CookieSameSite http.SameSite
		CookieSecure   bool

		// login endpoint
		LoginRateLimit float64
	}

	DatabaseConfig struct {
		Engine   string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
	}
)

// NewConfig loads the app configuration from defaults, an optional
// config/.env.<env> file and environment variables (prefixed with the env name).
func NewConfig() *Config {
	conf := viper.New()
	conf.SetTypeByDefaultValue(true)

	// defaults
	conf.SetDefault("debug", true)
	conf.SetDefault("build", "dev")
	conf.SetDefault("appName", "Academia")
	conf.SetDefault("secretKey", "v8=r2b)#e+x5s$q&u0(h7!yg^academia^dz&m2e_4wz#pq5-wr")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("sendgridApiKey", "")
	conf.SetDefault("rollbarToken", "")

	conf.SetDefault("server.host", "localhost")
	conf.SetDefault("server.addr", ":8000")
	conf.SetDefault("server.debugHost", ":8001")
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
	conf.SetDefault("server.accessTokenTTL", 10*time.Minute)
	conf.SetDefault("server.refreshTokenTTL", 14*24*time.Hour)
	conf.SetDefault("server.inviteTokenTTL", 72*time.Hour)
	conf.SetDefault("server.cookieSameSite", "lax")
	conf.SetDefault("server.cookieSecure", false)
	conf.SetDefault("server.loginRateLimit", 10.0)

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", "5432")
	conf.SetDefault("database.user", "postgres")
	conf.SetDefault("database.password", "postgres")
	conf.SetDefault("database.name", "academia")
	conf.SetDefault("database.sslMode", "disable")

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	c := &Config{
		AppName:          conf.GetString("appName"),
		Env:              env,
		Build:            conf.GetString("build"),
		Debug:            conf.GetBool("debug"),
		TestMode:         env == "TEST",
		WorkDir:          wd,
		SecretKey:        []byte(conf.GetString("secretKey")),
		FrontendBaseURL:  conf.GetString("frontendBaseURL"),
		DefaultFromEmail: mail.Address{Name: conf.GetString("appName"), Address: conf.GetString("defaultFromEmail")},
		SendgridAPIKey:   conf.GetString("sendgridApiKey"),
		RollbarToken:     conf.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:            conf.GetString("server.host"),
			Addr:            conf.GetString("server.addr"),
			DebugHost:       conf.GetString("server.debugHost"),
			ShutdownTimeout: conf.GetDuration("server.shutdownTimeout"),
			AccessTokenTTL:  conf.GetDuration("server.accessTokenTTL"),
			RefreshTokenTTL: conf.GetDuration("server.refreshTokenTTL"),
			InviteTokenTTL:  conf.GetDuration("server.inviteTokenTTL"),
			CookieSameSite:  parseSameSite(conf.GetString("server.cookieSameSite")),
			CookieSecure:    conf.GetBool("server.cookieSecure") || env == "PROD",
			LoginRateLimit:  conf.GetFloat64("server.loginRateLimit"),
		},
		Database: DatabaseConfig{
			Engine:   conf.GetString("database.engine"),
			Host:     conf.GetString("database.host"),
			Port:     conf.GetString("database.port"),
			User:     conf.GetString("database.user"),
			Password: conf.GetString("database.password"),
			Name:     conf.GetString("database.name"),
			SSLMode:  conf.GetString("database.sslMode"),
		},
	}
	return c
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
