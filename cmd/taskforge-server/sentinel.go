package main

import "github.com/taskforge/taskforge/pkg/sentinel"

// runSentinel starts the sentinel supervisor for the server.
func runSentinel() {
	sentinel.Run()
}
