// Package main runs the stream grid server
package main

import "os"

const (
	version         = "0.1.0"
	defaultDataPath = "/data"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
