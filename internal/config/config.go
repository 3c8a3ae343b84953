// Package config reads the process environment. It is called once from main.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderLangchain = "langchain"

	StoreMemory    = "memory"
	StoreDynamoDB  = "dynamodb"
	StoreCosmos    = "cosmos"
	StoreFirestore = "firestore"

	CredentialEnv = "env"
	CredentialSSM = "ssm"
)

var defaultModels = map[string]string{
	ProviderGemini:    "gemini-1.5-flash",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderLangchain: "gpt-4o-mini",
}

var defaultKeyEnv = map[string]string{
	ProviderGemini:    "GOOGLE_GENAI_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderLangchain: "AZURE_OPENAI_KEY",
}

type Config struct {
	Provider    string
	Model       string
	Temperature float32

	CredentialSource string
	APIKeyEnv        string
	APIKeyParam      string
	ParamPrefix      string

	OpenAIBaseURL       string
	AzureOpenAIEndpoint string

	Store               string
	StateTable          string
	CosmosEndpoint      string
	CosmosDatabaseName  string
	CosmosContainerName string
	FirestoreProjectID  string
	FirestoreCollection string
	SessionTTL          time.Duration
	SessionLease        time.Duration
	MaxMessageLength    int
	KnowledgeParam      string
	LogLevel            string
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

// Load reads all env vars and validates the combination.
func Load() (*Config, error) {
	provider := strings.ToLower(getEnv("ASSISTANT_PROVIDER", ProviderGemini))
	if _, ok := defaultModels[provider]; !ok {
		return nil, fmt.Errorf("config: unknown ASSISTANT_PROVIDER %q", provider)
	}

	temperature, err := envFloat("ASSISTANT_TEMPERATURE", 0.5)
	if err != nil {
		return nil, err
	}
	maxLen, err := envInt("MAX_MESSAGE_LENGTH", 500)
	if err != nil {
		return nil, err
	}
	sessionTTL, err := envDuration("SESSION_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	sessionLease, err := envDuration("SESSION_LEASE", 2*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Provider:    provider,
		Model:       getEnv("ASSISTANT_MODEL", defaultModels[provider]),
		Temperature: float32(temperature),

		CredentialSource: strings.ToLower(getEnv("ASSISTANT_CREDENTIAL_SOURCE", CredentialEnv)),
		APIKeyEnv:        getEnv("ASSISTANT_API_KEY_ENV", defaultKeyEnv[provider]),
		APIKeyParam:      getEnv("ASSISTANT_API_KEY_PARAM", "api-key"),
		ParamPrefix:      getEnv("PARAM_PREFIX", ""),

		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AzureOpenAIEndpoint: getEnv("AZURE_OPENAI_ENDPOINT", ""),

		Store:               strings.ToLower(getEnv("ASSISTANT_STORE", StoreMemory)),
		StateTable:          getEnv("STATE_TABLE", ""),
		CosmosEndpoint:      getEnv("COSMOSDB_ENDPOINT_URL", ""),
		CosmosDatabaseName:  getEnv("COSMOSDB_DATABASE_NAME", ""),
		CosmosContainerName: getEnv("COSMOSDB_CONTAINER_NAME", ""),
		FirestoreProjectID:  getEnv("GOOGLE_CLOUD_PROJECT", ""),
		FirestoreCollection: getEnv("FIRESTORE_COLLECTION", "assistant_sessions"),
		SessionTTL:          sessionTTL,
		SessionLease:        sessionLease,
		MaxMessageLength:    maxLen,
		KnowledgeParam:      getEnv("KNOWLEDGE_PARAM", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("config: ASSISTANT_TEMPERATURE %.2f out of range [0, 2]", c.Temperature))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("config: MAX_MESSAGE_LENGTH must be positive"))
	}
	if c.SessionTTL <= 0 || c.SessionLease <= 0 {
		errs = append(errs, errors.New("config: SESSION_TTL and SESSION_LEASE must be positive"))
	}

	switch c.CredentialSource {
	case CredentialEnv:
	case CredentialSSM:
		if c.ParamPrefix == "" && !strings.HasPrefix(c.APIKeyParam, "/") {
			errs = append(errs, errors.New("config: PARAM_PREFIX is required when ASSISTANT_CREDENTIAL_SOURCE=ssm"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown ASSISTANT_CREDENTIAL_SOURCE %q", c.CredentialSource))
	}

	if c.Provider == ProviderLangchain && c.AzureOpenAIEndpoint == "" {
		errs = append(errs, errors.New("config: AZURE_OPENAI_ENDPOINT is required for the langchain provider"))
	}

	switch c.Store {
	case StoreMemory:
	case StoreDynamoDB:
		if c.StateTable == "" {
			errs = append(errs, errors.New("config: STATE_TABLE is required for the dynamodb store"))
		}
	case StoreCosmos:
		if c.CosmosEndpoint == "" || c.CosmosDatabaseName == "" || c.CosmosContainerName == "" {
			errs = append(errs, errors.New("config: COSMOSDB_ENDPOINT_URL, COSMOSDB_DATABASE_NAME and COSMOSDB_CONTAINER_NAME are required for the cosmos store"))
		}
	case StoreFirestore:
		if c.FirestoreProjectID == "" {
			errs = append(errs, errors.New("config: GOOGLE_CLOUD_PROJECT is required for the firestore store"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown ASSISTANT_STORE %q", c.Store))
	}
	return errors.Join(errs...)
}
