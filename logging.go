package main

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var logFile *os.File

func initLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}

	logFilePath := os.Getenv("LOG_FILE")
	if logFilePath == "" {
		logFilePath = "gleech.log"
	}

	// Ensure the directory exists for the log file if it contains a path
	logDir := filepath.Dir(logFilePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
			println("Error creating log directory: " + err.Error())
		}
	}

	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		println("Error opening log file: " + err.Error())
	}
	multi := zerolog.MultiLevelWriter(consoleWriter, logFile)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()

	log.Info().Msgf("gleech v%s", VERSION)
}

// shutdownLogging safely closes the log file if it's open.
func shutdownLogging() {
	if logFile != nil {
		if err := logFile.Close(); err != nil {
			println("Error closing log file: " + err.Error())
		}
	}
}
