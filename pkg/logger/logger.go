package logger

import (
	"io"
	"log"
	"strings"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var currentLevel Level = INFO

// InitLogger configura el nivel mínimo a partir de LOG_LEVEL
func InitLogger(level string) {
	currentLevel = ParseLevel(level)
}

// ParseLevel convierte un nombre de nivel en Level; desconocido => INFO
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Enabled indica si un nivel se imprimirá con la configuración actual
func Enabled(level Level) bool {
	return currentLevel <= level
}

func Debug(format string, v ...interface{}) {
	if Enabled(DEBUG) {
		log.Printf("[DEBUG] "+format, v...)
	}
}

func Info(format string, v ...interface{}) {
	if Enabled(INFO) {
		log.Printf("[INFO] "+format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	if Enabled(WARN) {
		log.Printf("[WARN] "+format, v...)
	}
}

// Error siempre se imprime salvo que el nivel sea superior a ERROR
func Error(format string, v ...interface{}) {
	if Enabled(ERROR) {
		log.Printf("[ERROR] "+format, v...)
	}
}

// Fatalf imprime y termina el proceso
func Fatalf(format string, v ...interface{}) {
	log.Fatalf("[FATAL] "+format, v...)
}

// SetOutput redirige la salida (útil en tests)
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
