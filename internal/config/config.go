package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Session SessionConfig
	Vendor  VendorConfig
	Engine  EngineConfig
	Events  EventsConfig
	Routing RoutingConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for hosted-Postgres posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// SessionConfig controls the at-rest encryption of contact session data.
// The key is hex-encoded and must decode to 32 bytes (AES-256).
type SessionConfig struct {
	KeyHex string
}

// VendorConfig controls the outbound vendor gateway.
type VendorConfig struct {
	BaseURL string

	// Timeout bounds a single outbound attempt. Keep it low single-digit
	// seconds so a slow vendor cannot stall a caller's turn.
	Timeout time.Duration
}

// EngineConfig controls workflow step execution.
type EngineConfig struct {
	// DefaultMaxRetries applies to gather-style steps with no per-step limit.
	DefaultMaxRetries int

	// TurnLockTTL bounds the per-call serialization lock.
	TurnLockTTL time.Duration
}

// EventsConfig controls disposition event publishing. Optional: when URL is
// empty the process runs with a no-op publisher.
type EventsConfig struct {
	RabbitURL string
	Exchange  string
}

type RoutingConfig struct {
	// DefaultMode is the operating mode used when no override is stored.
	// Accepts: NORMAL, EMERGENCY
	DefaultMode string

	// ClosureMessage is played system-wide in EMERGENCY mode and for closed queues.
	ClosureMessage string

	// ScreenPopURLTemplate builds the agent screen-pop URL for enqueue
	// instructions; {contact_id} and {state} are substituted.
	ScreenPopURLTemplate string

	// GreetingURLTemplate resolves a greeting id to a playable media URL;
	// {greeting_id} is substituted.
	GreetingURLTemplate string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	c.Session.KeyHex = strings.TrimSpace(os.Getenv("SESSION_KEY_HEX"))

	c.Vendor.BaseURL = strings.TrimSpace(os.Getenv("VENDOR_BASE_URL"))
	c.Vendor.Timeout = mustDuration("VENDOR_TIMEOUT")

	c.Engine.DefaultMaxRetries = optionalInt("ENGINE_DEFAULT_MAX_RETRIES")
	c.Engine.TurnLockTTL = mustDuration("ENGINE_TURN_LOCK_TTL")

	c.Events.RabbitURL = strings.TrimSpace(os.Getenv("RABBIT_URL"))
	c.Events.Exchange = strings.TrimSpace(os.Getenv("RABBIT_EXCHANGE"))

	c.Routing.DefaultMode = strings.ToUpper(strings.TrimSpace(os.Getenv("OPERATING_MODE")))
	c.Routing.ClosureMessage = strings.TrimSpace(os.Getenv("CLOSURE_MESSAGE"))
	c.Routing.ScreenPopURLTemplate = strings.TrimSpace(os.Getenv("SCREEN_POP_URL_TEMPLATE"))
	c.Routing.GreetingURLTemplate = strings.TrimSpace(os.Getenv("GREETING_URL_TEMPLATE"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Session.KeyHex == "" {
		errs = append(errs, errors.New("SESSION_KEY_HEX is required"))
	} else if key, err := hex.DecodeString(c.Session.KeyHex); err != nil {
		errs = append(errs, fmt.Errorf("SESSION_KEY_HEX must be hex: %v", err))
	} else if len(key) != 32 {
		errs = append(errs, fmt.Errorf("SESSION_KEY_HEX must decode to 32 bytes, got %d", len(key)))
	}

	if c.Vendor.BaseURL == "" {
		errs = append(errs, errors.New("VENDOR_BASE_URL is required"))
	}
	if c.Vendor.Timeout <= 0 {
		// Keep vendor latency from dominating a caller's turn.
		c.Vendor.Timeout = 3 * time.Second
	}

	if c.Engine.DefaultMaxRetries <= 0 {
		c.Engine.DefaultMaxRetries = 2
	}
	if c.Engine.TurnLockTTL <= 0 {
		c.Engine.TurnLockTTL = 30 * time.Second
	}

	if c.Events.RabbitURL != "" && c.Events.Exchange == "" {
		errs = append(errs, errors.New("RABBIT_EXCHANGE is required when RABBIT_URL is set"))
	}

	if c.Routing.DefaultMode == "" {
		c.Routing.DefaultMode = "NORMAL"
	}
	if c.Routing.DefaultMode != "NORMAL" && c.Routing.DefaultMode != "EMERGENCY" {
		errs = append(errs, fmt.Errorf("OPERATING_MODE must be NORMAL or EMERGENCY, got %q", c.Routing.DefaultMode))
	}
	if c.Routing.ClosureMessage == "" {
		c.Routing.ClosureMessage = "We are currently closed. Please call back later."
	}
	if c.Routing.ScreenPopURLTemplate == "" {
		c.Routing.ScreenPopURLTemplate = "/agent/contacts/{contact_id}?state={state}"
	}
	if c.Routing.GreetingURLTemplate == "" {
		c.Routing.GreetingURLTemplate = "/media/greetings/{greeting_id}.wav"
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// SessionKey returns the decoded session encryption key.
// Validate() must have succeeded first.
func (c Config) SessionKey() []byte {
	key, _ := hex.DecodeString(c.Session.KeyHex)
	return key
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
