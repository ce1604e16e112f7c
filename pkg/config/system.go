package config

import "time"

// JWTConfig controls bearer-token principal resolution on inbound
// requests (pkg/api/auth.go).
type JWTConfig struct {
	SigningKeyEnv string        `yaml:"signing_key_env"` // env var holding the HMAC signing key
	Issuer        string        `yaml:"issuer,omitempty"`
	TokenTTL      time.Duration `yaml:"token_ttl,omitempty"`
}

// RedisConfig controls the optional conversation-state mirror
// (pkg/conversation) used to hand a paused execution off between
// runner processes without a full checkpoint read.
type RedisConfig struct {
	Addr            string        `yaml:"addr,omitempty"` // empty disables Redis entirely
	PasswordEnv     string        `yaml:"password_env,omitempty"`
	DB              int           `yaml:"db,omitempty"`
	ConversationTTL time.Duration `yaml:"conversation_ttl,omitempty"`
}

// NotifyConfig controls the optional outbound notification hook
// (pkg/notify) invoked on task claim and terminal transition.
type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// StreamConfig controls the HTTP surface of the streaming projection
// endpoint (pkg/stream, pkg/api).
type StreamConfig struct {
	AllowedOrigins []string      `yaml:"allowed_origins,omitempty"`
	TickInterval   time.Duration `yaml:"tick_interval,omitempty"`
}
