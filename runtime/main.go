package main

import (
	"io"
	"os"
	"strings"

	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/lac-hong-legacy/guard_api/middleware"
	"github.com/lac-hong-legacy/guard_api/services"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatal().Err(err).Msg("Error loading .env file")
	}

	setupLogging()

	ctx, err := context.NewCtx(
		&services.MonitoringService{},
		&services.DatabaseService{},
		&services.RedisService{},
		&services.JWTService{},
		&services.NotificationService{},
		&services.ClassifierService{},
		&services.AdmissionService{},
		&services.EnforcementService{},
		&services.ReportService{},
		&middleware.AuthMiddleware{},

		&services.HttpService{},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure services")
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err).Msg("Service stopped")
		return
	}
}

// setupLogging sends both loggers to stdout and, when LOG_FILE is set, to a
// rotated file.
func setupLogging() {
	var out io.Writer = os.Stdout
	if path := os.Getenv("LOG_FILE"); path != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	level, err := logrus.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})

	zl, err := zerolog.ParseLevel(strings.Replace(level.String(), "warning", "warn", 1))
	if err != nil {
		zl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zl)
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}
