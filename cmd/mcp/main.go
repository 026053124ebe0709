// Command mcp exposes TiltCheck trust, session and intervention tools to
// MCP clients over stdio. It talks to a running TiltCheck API.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/tiltcheck/internal/logging"
	"github.com/mbd888/tiltcheck/internal/mcpserver"
)

const defaultAPIURL = "http://localhost:8080"

func main() {
	_ = godotenv.Load()
	// Stdout carries the protocol; logs go to stderr.
	logger := logging.NewWithOptions(logging.Options{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: "text",
		Output: os.Stderr,
	})

	cfg := mcpserver.Config{
		APIURL: os.Getenv("TILTCHECK_API_URL"),
		UserID: os.Getenv("TILTCHECK_USER_ID"),
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	logger.Debug("mcp server starting", "api", cfg.APIURL, "default_user", cfg.UserID)

	if err := server.ServeStdio(mcpserver.NewMCPServer(cfg)); err != nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
