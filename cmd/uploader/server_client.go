//go:build client

package main

// ServerCommands is empty in client-only builds
type ServerCommands struct{}
