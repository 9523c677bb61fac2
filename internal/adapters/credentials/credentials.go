// Package credentials supplies hub credentials to the delivery client.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Static always returns the same credentials.
type Static ports.Credentials

func (s Static) Credentials(context.Context) (ports.Credentials, error) {
	return ports.Credentials(s), nil
}

type fileDoc struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

// File reads a YAML credentials document on every call so a rotated file is
// picked up by the next connection attempt.
type File struct {
	Path string
}

func (f File) Credentials(ctx context.Context) (ports.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return ports.Credentials{}, err
	}
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return ports.Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return ports.Credentials{}, fmt.Errorf("parse credentials %s: %w", f.Path, err)
	}
	if doc.Username == "" && doc.Token == "" {
		return ports.Credentials{}, errors.New("credentials file has neither username nor token")
	}
	return ports.Credentials{Username: doc.Username, Password: doc.Password, Token: doc.Token}, nil
}

// Config selects a provider from the agent configuration.
type Config struct {
	File     string `yaml:"file"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

// New returns a File provider when a path is set and a Static one otherwise.
func New(cfg Config) ports.CredentialsProvider {
	if cfg.File != "" {
		return File{Path: cfg.File}
	}
	return Static{Username: cfg.Username, Password: cfg.Password, Token: cfg.Token}
}

var (
	_ ports.CredentialsProvider = Static{}
	_ ports.CredentialsProvider = File{}
)
