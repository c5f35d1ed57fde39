package main

import "time"

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
	EnvFile    string
}

// ClientFlags holds the flags shared by commands that talk to a running
// daemon over its HTTP API.
type ClientFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// LogsFlags holds flags for the logs command.
type LogsFlags struct {
	ClientFlags
	Tail int
}
