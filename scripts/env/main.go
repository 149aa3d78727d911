// Command env regenerates the repository .env from the layered sources
// in config/env. Run it after editing base.env or secrets.env:
//
//	go run ./scripts/env [-context dev]
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"flotilla/pkg/configgen"
)

func main() {
	context := flag.String("context", "dev", "environment label stamped into the generated file")
	flag.Parse()

	out, err := generate(*context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "env: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote", out)
}

func generate(context string) (string, error) {
	root, err := repoRoot()
	if err != nil {
		return "", err
	}

	envDir := filepath.Join(root, "config", "env")
	opts := configgen.Options{
		BaseFile:    filepath.Join(envDir, "base.env"),
		SecretsFile: filepath.Join(envDir, "secrets.env"),
		OutputFile:  filepath.Join(root, ".env"),
		Context:     context,
	}
	if _, err := configgen.Generate(opts); err != nil {
		return "", err
	}
	return opts.OutputFile, nil
}

// repoRoot walks up from the working directory to the go.mod, so the tool
// works from any subdirectory of the checkout.
func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("no go.mod above the working directory")
		}
		dir = parent
	}
}
