// Package config loads the bridge service configuration from environment
// variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// AgentMapping ties a provisioned phone number to the conversational-AI agent
// that should answer it.
type AgentMapping struct {
	Number  string // E.164 number callers dial
	AgentID string // agent id on the AI platform
}

// Config holds everything the service reads from the environment.
type Config struct {
	Port   string
	LogEnv string

	// Call-control provider
	CallControlBaseURL string
	CallControlAPIKey  string
	ConnectionID       string // call-control application / connection id
	FromNumber         string // default caller id for outbound dials

	// Conversational-AI platform
	AIBaseURL  string
	AIAPIKey   string
	AISIPTrunk string // static SIP URI fallback when the AI API is not configured
	Agents     []AgentMapping
	Transcribe bool // start transcription on newly created conferences

	// Supervisory system
	SupervisorBaseURL string

	// Correlation store backend
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Call history persistence
	DatabaseDSN string

	// Read API auth
	APIJWTSecret string

	// Orchestration tuning
	CallbackTTL     time.Duration
	SweepInterval   time.Duration
	EventBufferSize int
	TranscriptLimit int

	EnableCORS bool
}

// Load reads the configuration from the environment, applying defaults.
func Load() *Config {
	return &Config{
		Port:   getEnvOrDefault("PORT", "8084"),
		LogEnv: getEnvOrDefault("LOG_ENV", "development"),

		CallControlBaseURL: getEnvOrDefault("CALL_CONTROL_BASE_URL", "https://api.telnyx.com/v2"),
		CallControlAPIKey:  os.Getenv("CALL_CONTROL_API_KEY"),
		ConnectionID:       os.Getenv("CALL_CONTROL_CONNECTION_ID"),
		FromNumber:         os.Getenv("CALL_CONTROL_FROM_NUMBER"),

		AIBaseURL:  getEnvOrDefault("AI_AGENT_BASE_URL", ""),
		AIAPIKey:   os.Getenv("AI_AGENT_API_KEY"),
		AISIPTrunk: os.Getenv("AI_AGENT_SIP_TRUNK"),
		Agents:     parseAgentMappings(os.Getenv("AGENT_NUMBERS")),
		Transcribe: getEnvAsBoolOrDefault("TRANSCRIPTION_ENABLED", true),

		SupervisorBaseURL: os.Getenv("SUPERVISOR_BASE_URL"),

		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsIntOrDefault("REDIS_DB", 0),

		DatabaseDSN: os.Getenv("DATABASE_DSN"),

		APIJWTSecret: os.Getenv("API_JWT_SECRET"),

		CallbackTTL:     getEnvAsDurationOrDefault("CALLBACK_TTL", 60*time.Second),
		SweepInterval:   getEnvAsDurationOrDefault("SWEEP_INTERVAL", 15*time.Second),
		EventBufferSize: getEnvAsIntOrDefault("EVENT_BUFFER_SIZE", 512),
		TranscriptLimit: getEnvAsIntOrDefault("TRANSCRIPT_LIMIT", 500),

		EnableCORS: getEnvAsBoolOrDefault("ENABLE_CORS", true),
	}
}

// AgentForNumber returns the agent mapped to a dialed number, if any.
func (c *Config) AgentForNumber(number string) (AgentMapping, bool) {
	for _, m := range c.Agents {
		if m.Number == number {
			return m, true
		}
	}
	return AgentMapping{}, false
}

// parseAgentMappings parses "AGENT_NUMBERS" of the form
// "+15550100=agent-a,+15550101=agent-b". A bare number maps to an empty
// agent id, which dials the static SIP trunk.
func parseAgentMappings(s string) []AgentMapping {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	mappings := make([]AgentMapping, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		number, agentID, _ := strings.Cut(part, "=")
		mappings = append(mappings, AgentMapping{
			Number:  strings.TrimSpace(number),
			AgentID: strings.TrimSpace(agentID),
		})
	}
	return mappings
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
