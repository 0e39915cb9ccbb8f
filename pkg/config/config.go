package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config agrupa la configuración del servidor de partidas
type Config struct {
	Port           string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	LogLevel       string
	CatalogBackend string // "redis" o "postgres"
	DatabaseURL    string
	QuestionsFile  string
	ExcludedLaw    string
	SweepInterval  time.Duration
	LockTTL        time.Duration
	LockWait       time.Duration
}

const (
	CatalogRedis    = "redis"
	CatalogPostgres = "postgres"
)

// LoadConfig lee el .env (si existe) y las variables de entorno
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No se encontró archivo .env, usando variables de entorno")
	}

	return &Config{
		Port:           getEnv("PORT", "8080"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		CatalogBackend: getEnv("CATALOG_BACKEND", CatalogRedis),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		QuestionsFile:  getEnv("QUESTIONS_FILE", "preguntas.json"),
		ExcludedLaw:    getEnv("EXCLUDED_LAW", ""),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		LockTTL:        getEnvDuration("LOCK_TTL", 5*time.Second),
		LockWait:       getEnvDuration("LOCK_WAIT", 2*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("⚠️  %s=%q no es un entero, usando %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Printf("⚠️  %s=%q no es una duración válida, usando %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
