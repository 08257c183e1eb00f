package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Mpesa      MpesaConfig      `mapstructure:"mpesa"`
	Paystack   PaystackConfig   `mapstructure:"paystack"`
	Cloudinary CloudinaryConfig `mapstructure:"cloudinary"`
	Firebase   FirebaseConfig   `mapstructure:"firebase"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Payment    PaymentConfig    `mapstructure:"payment"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Env          string        `mapstructure:"env"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// JWTConfig verifies access tokens minted by the identity provider.
type JWTConfig struct {
	AccessSecret string        `mapstructure:"access_secret"`
	Issuer       string        `mapstructure:"issuer"`
	AccessExpiry time.Duration `mapstructure:"access_expiry"`
}

// MpesaConfig for Daraja STK push. CallbackBaseURL + /api/v1/webhooks/mpesa is sent as CallBackURL.
type MpesaConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	ConsumerKey     string        `mapstructure:"consumer_key"`
	ConsumerSecret  string        `mapstructure:"consumer_secret"`
	ShortCode       string        `mapstructure:"short_code"`
	Passkey         string        `mapstructure:"passkey"`
	CallbackBaseURL string        `mapstructure:"callback_base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// PaystackConfig; SecretKey is both the API bearer and the webhook HMAC key.
type PaystackConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	SecretKey   string        `mapstructure:"secret_key"`
	CallbackURL string        `mapstructure:"callback_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type CloudinaryConfig struct {
	CloudName string `mapstructure:"cloud_name"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Folder    string `mapstructure:"folder"`
}

type FirebaseConfig struct {
	ServiceAccountPath string `mapstructure:"service_account_path"`
}

type NotifyConfig struct {
	QueueSize int `mapstructure:"queue_size"`
	Workers   int `mapstructure:"workers"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	// Stricter budget for payment initiation and manual submission.
	PaymentRequests int `mapstructure:"payment_requests"`
}

type PaymentConfig struct {
	Currency string `mapstructure:"currency"`
	NodeID   int64  `mapstructure:"node_id"` // snowflake node for redirect references; unique per instance
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.dsn", "storefront:storefront@tcp(localhost:3306)/storefront?charset=utf8mb4&parseTime=True&loc=Local")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("jwt.access_secret", "change-me-in-production")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.access_expiry", 15*time.Minute)

	v.SetDefault("mpesa.base_url", "https://sandbox.safaricom.co.ke")
	v.SetDefault("mpesa.consumer_key", "")
	v.SetDefault("mpesa.consumer_secret", "")
	v.SetDefault("mpesa.short_code", "174379")
	v.SetDefault("mpesa.passkey", "")
	v.SetDefault("mpesa.callback_base_url", "http://localhost:8080")
	v.SetDefault("mpesa.timeout", 20*time.Second)

	v.SetDefault("paystack.base_url", "https://api.paystack.co")
	v.SetDefault("paystack.secret_key", "")
	v.SetDefault("paystack.callback_url", "http://localhost:3000/checkout/complete")
	v.SetDefault("paystack.timeout", 15*time.Second)

	v.SetDefault("cloudinary.cloud_name", "")
	v.SetDefault("cloudinary.api_key", "")
	v.SetDefault("cloudinary.api_secret", "")
	v.SetDefault("cloudinary.folder", "storefront/payment-proofs")

	v.SetDefault("firebase.service_account_path", "")

	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.workers", 4)

	v.SetDefault("ratelimit.requests", 100)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("ratelimit.payment_requests", 10)

	v.SetDefault("payment.currency", "KES")
	v.SetDefault("payment.node_id", 1)
}

// Load reads defaults, then the optional YAML file at path, then STOREFRONT_* environment
// variables (e.g. STOREFRONT_MPESA_PASSKEY), later sources winning.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("storefront")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// MpesaCallbackURL is the absolute URL Daraja posts STK results to.
func (c *Config) MpesaCallbackURL() string {
	base := strings.TrimRight(c.Mpesa.CallbackBaseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http") {
		base = "https://" + base
	}
	return base + "/api/v1/webhooks/mpesa"
}
