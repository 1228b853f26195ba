//go:build mage

// Package main provides build targets for the entity project using Mage.
//
// Usage:
//
//	mage build          Compile the entity binary to bin/
//	mage test:all       Run all tests
//	mage test:race      Run all tests with the race detector
//	mage test:cover     Write a coverage profile to bin/coverage.out
//	mage test:golden    Regenerate golden files
//	mage lint           Run golangci-lint
//	mage vet            Run go vet
//	mage clean          Remove build artifacts
//	mage install        Install entity to GOPATH/bin
//	mage stats          Print Go LOC and a summary of bundled type definitions
package main
