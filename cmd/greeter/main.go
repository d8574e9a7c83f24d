// Package main is the entry point for the greeter application.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Version information
const (
	AppVersion = "0.1.0"
	AppName    = "greeter"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
