//go:build mage

// Package main provides build targets for xmlshred using Mage.
//
// Usage:
//
//	mage build   Compile the xmlshred binary to bin/
//	mage test    Run all tests
//	mage lint    Run golangci-lint
//	mage clean   Remove build artifacts
//	mage install Install xmlshred to GOPATH/bin
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName = "xmlshred"
	binaryDir  = "bin"
	mainDir    = "."
)

// Build compiles the xmlshred binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV("go", "build", "-v", "-o", filepath.Join(binaryDir, binaryName), mainDir)
}

// Test runs all tests.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Lint runs go vet and golangci-lint.
func Lint() error {
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}
	return sh.RunV("golangci-lint", "run", "./...")
}

// Clean removes build artifacts.
func Clean() error {
	return os.RemoveAll(binaryDir)
}

// Install builds and installs xmlshred to GOPATH/bin.
func Install() error {
	mg.Deps(Test)
	return sh.RunV("go", "install", mainDir)
}
