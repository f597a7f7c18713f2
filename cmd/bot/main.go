// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/TyanRL/telegram-bot/services/bot"
)

var rootCmd = &cobra.Command{
	Use:   "bot",
	Short: "Telegram assistant service",
	Long: "Runs the Telegram assistant: webhook server, turn engine, tool\n" +
		"dispatch and the operator API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := bot.New(configFromEnv())
		if err != nil {
			return err
		}
		return svc.Run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(bot.Version)
	},
}

// configFromEnv assembles the service configuration from environment
// variables, matching the compose file's naming.
func configFromEnv() bot.Config {
	cfg := bot.Config{
		WebhookURL:       os.Getenv("TELEGRAM_WEBHOOK_URL"),
		WeaviateURL:      os.Getenv("WEAVIATE_SERVICE_URL"),
		MySQLEnabled:     os.Getenv("MYSQL_DSN") != "",
		ModelCatalogPath: os.Getenv("MODEL_CATALOG_PATH"),
		AdminToken:       os.Getenv("ADMIN_API_TOKEN"),
		OTelEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		EnableTracing:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		EnableMetrics:    true,
		GinMode:          os.Getenv("GIN_MODE"),
	}
	if port := os.Getenv("BOT_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			log.Fatalf("invalid BOT_PORT %q: %v", port, err)
		}
		cfg.Port = p
	}
	if maxHistory := os.Getenv("MAX_HISTORY_LENGTH"); maxHistory != "" {
		n, err := strconv.Atoi(maxHistory)
		if err != nil {
			log.Fatalf("invalid MAX_HISTORY_LENGTH %q: %v", maxHistory, err)
		}
		cfg.MaxHistory = n
	}
	return cfg
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	rootCmd.AddCommand(versionCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
