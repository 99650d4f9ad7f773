package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// CORSConfig lists the browser origins allowed to call the API. An origin may
// start its host with "*." to match any subdomain.
type CORSConfig struct {
	Origins     []string
	Credentials bool
	MaxAge      time.Duration
}

type StorageConfig struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	Region         string
	PresignTTL     time.Duration
	MaxUploadBytes int64
}

// AuthConfig holds one signing secret and one lifetime per token kind.
type AuthConfig struct {
	AccessSecret       string
	RefreshSecret      string
	ConfirmEmailSecret string
	ForgotSecret       string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	ConfirmEmailTTL    time.Duration
	ForgotTTL          time.Duration
}

type PasswordConfig struct {
	Algorithm  string
	BcryptCost int
}

type SessionsConfig struct {
	PurgeAfter    time.Duration
	PurgeSchedule string
}

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	FromName  string
	TLSPolicy string // opportunistic, mandatory or none
	Timeout   time.Duration
}

type MailConfig struct {
	Stream         string
	Group          string
	Consumer       string
	ClaimInterval  time.Duration
	MaxLen         int64
	EnqueueTimeout time.Duration
	SMTP           SMTPConfig
}

type AppInfoConfig struct {
	Name           string
	FrontendDomain string
}

type AppConfig struct {
	Environment string
	App         AppInfoConfig
	HTTP        HTTPConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Storage     StorageConfig
	Auth        AuthConfig
	Password    PasswordConfig
	Sessions    SessionsConfig
	Mail        MailConfig
	CORS        CORSConfig
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("AUTHGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			StringToDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate reports every problem that would make the API unsafe to start.
func (c *AppConfig) Validate() error {
	var problems []error

	secrets := map[string]string{
		"auth.accesssecret":       c.Auth.AccessSecret,
		"auth.refreshsecret":      c.Auth.RefreshSecret,
		"auth.confirmemailsecret": c.Auth.ConfirmEmailSecret,
		"auth.forgotsecret":       c.Auth.ForgotSecret,
	}
	seen := make(map[string]string, len(secrets))
	for _, key := range []string{"auth.accesssecret", "auth.refreshsecret", "auth.confirmemailsecret", "auth.forgotsecret"} {
		secret := secrets[key]
		if strings.TrimSpace(secret) == "" {
			problems = append(problems, fmt.Errorf("%s is required", key))
			continue
		}
		if other, ok := seen[secret]; ok {
			problems = append(problems, fmt.Errorf("%s must differ from %s", key, other))
			continue
		}
		seen[secret] = key
	}

	ttls := []struct {
		key string
		ttl time.Duration
	}{
		{"auth.accessttl", c.Auth.AccessTTL},
		{"auth.refreshttl", c.Auth.RefreshTTL},
		{"auth.confirmemailttl", c.Auth.ConfirmEmailTTL},
		{"auth.forgotttl", c.Auth.ForgotTTL},
	}
	for _, item := range ttls {
		if item.ttl <= 0 {
			problems = append(problems, fmt.Errorf("%s must be positive", item.key))
		}
	}

	if c.App.FrontendDomain == "" {
		problems = append(problems, errors.New("app.frontenddomain is required"))
	}
	if c.Postgres.DSN == "" {
		problems = append(problems, errors.New("postgres.dsn is required"))
	}

	switch c.Password.Algorithm {
	case "bcrypt":
		if c.Password.BcryptCost < 10 || c.Password.BcryptCost > 14 {
			problems = append(problems, fmt.Errorf("password.bcryptcost must be within 10..14, got %d", c.Password.BcryptCost))
		}
	case "argon2id":
	default:
		problems = append(problems, fmt.Errorf("password.algorithm %q is not supported", c.Password.Algorithm))
	}

	for _, origin := range c.CORS.Origins {
		if err := checkOrigin(origin); err != nil {
			problems = append(problems, err)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(problems...))
	}
	return nil
}

// checkOrigin accepts scheme://host[:port], where host may begin with "*.".
func checkOrigin(origin string) error {
	scheme, host, ok := strings.Cut(strings.TrimSpace(origin), "://")
	if !ok || scheme == "" || host == "" || strings.Contains(host, "/") {
		return fmt.Errorf("cors.origins: %q is not an origin", origin)
	}
	if strings.Contains(strings.TrimPrefix(host, "*."), "*") {
		return fmt.Errorf("cors.origins: %q may only use a leading \"*.\" wildcard", origin)
	}
	return nil
}

// ValidateWorker checks the settings the mail worker depends on.
func (c *AppConfig) ValidateWorker() error {
	var problems []error
	if c.Mail.SMTP.Host == "" {
		problems = append(problems, errors.New("mail.smtp.host is required"))
	}
	if c.Mail.SMTP.From == "" {
		problems = append(problems, errors.New("mail.smtp.from is required"))
	}
	if c.Mail.ClaimInterval <= 0 {
		problems = append(problems, errors.New("mail.claiminterval must be positive"))
	}
	switch c.Mail.SMTP.TLSPolicy {
	case "", "opportunistic", "mandatory", "none":
	default:
		problems = append(problems, fmt.Errorf("mail.smtp.tlspolicy %q is not one of opportunistic, mandatory, none", c.Mail.SMTP.TLSPolicy))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid worker config: %w", errors.Join(problems...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("app.name", "authgate")
	v.SetDefault("app.frontenddomain", "http://localhost:3000")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 5)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.migrateonstart", true)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolsize", 10)
	v.SetDefault("redis.dialtimeout", "5s")
	v.SetDefault("redis.readtimeout", "3s")
	v.SetDefault("redis.writetimeout", "3s")

	v.SetDefault("storage.endpoint", "127.0.0.1:9000")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucket", "authgate-files")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.presignttl", "15m")
	v.SetDefault("storage.maxuploadbytes", 5<<20)

	// secrets have no defaults; Validate rejects them when unset
	v.SetDefault("auth.accesssecret", "")
	v.SetDefault("auth.refreshsecret", "")
	v.SetDefault("auth.confirmemailsecret", "")
	v.SetDefault("auth.forgotsecret", "")
	v.SetDefault("auth.accessttl", "1h")
	v.SetDefault("auth.refreshttl", "7d")
	v.SetDefault("auth.confirmemailttl", "1d")
	v.SetDefault("auth.forgotttl", "30m")

	v.SetDefault("password.algorithm", "bcrypt")
	v.SetDefault("password.bcryptcost", 12)

	v.SetDefault("sessions.purgeafter", "30d")
	v.SetDefault("sessions.purgeschedule", "0 0 * * * *")

	v.SetDefault("mail.stream", "mail:outbound")
	v.SetDefault("mail.group", "mail-workers")
	v.SetDefault("mail.consumer", "worker-1")
	v.SetDefault("mail.claiminterval", "30s")
	v.SetDefault("mail.maxlen", 10000)
	v.SetDefault("mail.enqueuetimeout", "3s")
	v.SetDefault("mail.smtp.host", "")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.username", "")
	v.SetDefault("mail.smtp.password", "")
	v.SetDefault("mail.smtp.from", "")
	v.SetDefault("mail.smtp.fromname", "authgate")
	v.SetDefault("mail.smtp.tlspolicy", "opportunistic")
	v.SetDefault("mail.smtp.timeout", "30s")

	v.SetDefault("cors.origins", []string{})
	v.SetDefault("cors.credentials", true)
	v.SetDefault("cors.maxage", "10m")
}
