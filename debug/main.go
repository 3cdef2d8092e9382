package main

import (
	"os"

	"github.com/emrgen/omnistore/internal/config"
	"github.com/emrgen/omnistore/internal/server"
	"github.com/sirupsen/logrus"
)

// debug runs the server against a local sqlite file with verbose logs.
func main() {
	if os.Getenv("DB_URL") == "" {
		_ = os.Setenv("DB_URL", "omnistore-debug.db")
	}
	if os.Getenv("LOG_LEVEL") == "" {
		_ = os.Setenv("LOG_LEVEL", "debug")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatal(err)
	}

	err = server.Start(cfg)
	if err != nil {
		logrus.Fatal(err)
	}
}
