package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration resolved once at startup.
// Key material lives here and is passed to the exchange relay explicitly;
// nothing reads it as ambient global state mid-request.
type Server struct {
	Addr        string
	Environment string

	JWTSigningKey string
	TokenTTL      time.Duration

	DatabaseURL string
	RedisAddr   string

	KafkaBrokers string
	AuditTopic   string

	ContractServiceURL string
	CatalogServiceURL  string
	GatewayCacheTTL    time.Duration
	UpstreamTimeout    time.Duration

	// Exchange relay key material. AESKeyHex must decode to 32 bytes;
	// RSAPrivateKeyPEM is a PKCS#1 or PKCS#8 encoded private key.
	AESKeyHex        string
	RSAPrivateKeyPEM string

	// Base URL used to build consent confirmation deep links in emails.
	PublicBaseURL string

	SMTPAddr string
	MailFrom string

	// When true, a failed forward of an attached token to the consumer's
	// import endpoint fails the whole attach call instead of being logged
	// and swallowed.
	StrictTokenForward bool
}

const (
	defaultTokenTTL        = 15 * time.Minute
	defaultGatewayCacheTTL = 60 * time.Second
	defaultUpstreamTimeout = 10 * time.Second
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:               envOr("COVENANT_ADDR", ":8080"),
		Environment:        envOr("COVENANT_ENV", "development"),
		JWTSigningKey:      envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		TokenTTL:           durationOr("TOKEN_TTL", defaultTokenTTL),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		KafkaBrokers:       os.Getenv("KAFKA_BROKERS"),
		AuditTopic:         envOr("AUDIT_TOPIC", "covenant.audit"),
		ContractServiceURL: envOr("CONTRACT_SERVICE_URL", "http://localhost:8081"),
		CatalogServiceURL:  envOr("CATALOG_SERVICE_URL", "http://localhost:8082"),
		GatewayCacheTTL:    durationOr("GATEWAY_CACHE_TTL", defaultGatewayCacheTTL),
		UpstreamTimeout:    durationOr("UPSTREAM_TIMEOUT", defaultUpstreamTimeout),
		AESKeyHex:          os.Getenv("EXCHANGE_AES_KEY"),
		RSAPrivateKeyPEM:   os.Getenv("EXCHANGE_RSA_PRIVATE_KEY"),
		PublicBaseURL:      envOr("PUBLIC_BASE_URL", "http://localhost:8080"),
		SMTPAddr:           os.Getenv("SMTP_ADDR"),
		MailFrom:           envOr("MAIL_FROM", "no-reply@covenant.local"),
		StrictTokenForward: boolOr("STRICT_TOKEN_FORWARD", false),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func boolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
