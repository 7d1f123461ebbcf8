package config

import (
	"log"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Settings read from the environment by Load. Defaults are usable for local
// development and tests without any environment at all.
var (
	AppEnv       string
	IsStaging    bool
	IsProduction bool

	Port      string
	JWTSecret string

	// DBDriver is one of "sqlite", "mysql" or "postgres".
	DBDriver    string
	DatabaseURL string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	GeminiAPIKey    string
	GeminiBaseURL   string
	GeminiModel     string
	DeepSeekAPIKey  string
	DeepSeekBaseURL string

	CORSOrigins []string

	UploadDir     string
	PublicBaseURL string
	UploadSecret  string

	// runtime tunables
	RateLimitWindowSeconds   int
	RateLimitCapacity        int
	UserConcurrencyLimit     int
	DuplicateWindowSeconds   int
	CompletionTimeoutSeconds int
	TokenTTLHours            int
)

func init() {
	applyDefaults()
}

func applyDefaults() {
	AppEnv = "staging"
	IsStaging = true
	IsProduction = false
	Port = "5000"
	JWTSecret = "dev-secret-change-me"
	DBDriver = "sqlite"
	DatabaseURL = "polychat.db"
	OpenAIBaseURL = "https://api.openai.com/v1"
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	GeminiModel = "gemini-2.0-flash"
	DeepSeekBaseURL = "https://api.deepseek.com"
	CORSOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000", "http://localhost:5173", "http://127.0.0.1:5173"}
	UploadDir = "./uploads"
	PublicBaseURL = "http://127.0.0.1:5000"
	UploadSecret = "dev-upload-secret"
	RateLimitWindowSeconds = 10
	RateLimitCapacity = 5
	UserConcurrencyLimit = 2
	DuplicateWindowSeconds = 45
	CompletionTimeoutSeconds = 120
	TokenTTLHours = 24
}

// loadAppEnv only loads .env outside production.
func loadAppEnv() {
	AppEnv = os.Getenv("APP_ENV")
	if AppEnv == "production" {
		return
	}
	if err := godotenv.Load(); err != nil {
		log.Printf("[config] no .env file loaded: %v", err)
	}
}

// Load reads configuration from the environment (and .env outside
// production). It exits the process on settings that cannot be served.
func Load() {
	loadAppEnv()

	AppEnv = os.Getenv("APP_ENV")
	if AppEnv == "" {
		AppEnv = "staging"
	}
	if !slices.Contains([]string{"staging", "production"}, AppEnv) {
		log.Fatal("environment variable APP_ENV must be 'staging' or 'production'")
	}
	IsStaging = AppEnv == "staging"
	IsProduction = AppEnv == "production"

	Port = stringOr(os.Getenv("PORT"), Port)
	JWTSecret = stringOr(os.Getenv("JWT_SECRET_KEY"), JWTSecret)

	DBDriver = strings.ToLower(stringOr(os.Getenv("DB_DRIVER"), DBDriver))
	DatabaseURL = stringOr(os.Getenv("DATABASE_URL"), DatabaseURL)
	if !slices.Contains([]string{"sqlite", "mysql", "postgres"}, DBDriver) {
		log.Fatalf("DB_DRIVER must be sqlite, mysql or postgres, got %q", DBDriver)
	}

	OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	OpenAIBaseURL = stringOr(os.Getenv("OPENAI_BASE_URL"), OpenAIBaseURL)
	GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	GeminiBaseURL = stringOr(os.Getenv("GEMINI_BASE_URL"), GeminiBaseURL)
	// upstream model serving the "gemini-pro" catalog entry
	GeminiModel = stringOr(os.Getenv("GEMINI_MODEL"), GeminiModel)
	DeepSeekAPIKey = os.Getenv("DEEPSEEK_API_KEY")
	DeepSeekBaseURL = stringOr(os.Getenv("DEEPSEEK_BASE_URL"), DeepSeekBaseURL)

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		CORSOrigins = splitList(v)
	}

	UploadDir = stringOr(os.Getenv("UPLOAD_DIR"), UploadDir)
	PublicBaseURL = strings.TrimRight(stringOr(os.Getenv("PUBLIC_BASE_URL"), "http://127.0.0.1:"+Port), "/")
	UploadSecret = stringOr(os.Getenv("UPLOAD_SECRET"), UploadSecret)

	RateLimitWindowSeconds = atoiOr(os.Getenv("RATE_LIMIT_WINDOW_SECONDS"), RateLimitWindowSeconds)
	RateLimitCapacity = atoiOr(os.Getenv("RATE_LIMIT_CAPACITY"), RateLimitCapacity)
	UserConcurrencyLimit = atoiOr(os.Getenv("USER_CONCURRENCY_LIMIT"), UserConcurrencyLimit)
	DuplicateWindowSeconds = atoiOr(os.Getenv("DUPLICATE_WINDOW_SECONDS"), DuplicateWindowSeconds)
	CompletionTimeoutSeconds = atoiOr(os.Getenv("COMPLETION_TIMEOUT_SECONDS"), CompletionTimeoutSeconds)
	TokenTTLHours = atoiOr(os.Getenv("TOKEN_TTL_HOURS"), TokenTTLHours)

	if IsProduction && os.Getenv("JWT_SECRET_KEY") == "" {
		log.Fatal("JWT_SECRET_KEY must be set in production")
	}
	if IsProduction && os.Getenv("UPLOAD_SECRET") == "" {
		log.Fatal("UPLOAD_SECRET must be set in production")
	}
}

func stringOr(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
