package secret

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Provider resolves secrets by reference string.
//
// Implementations must be safe for concurrent use and must not log secret values.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
	Close() error
}

// EnvProvider resolves a reference as an environment variable name.
type EnvProvider struct{}

// Name returns "env".
func (EnvProvider) Name() string { return "env" }

// Resolve returns the value of the environment variable ref.
func (EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("%w: env %s", ErrNotFound, ref)
	}
	return v, nil
}

// Close is a no-op.
func (EnvProvider) Close() error { return nil }

// FileProvider resolves a reference as a file path, the way container
// secret mounts expose credentials. Trailing newlines are trimmed.
type FileProvider struct {
	// Dir anchors relative references. Empty means the working directory.
	Dir string
}

// Name returns "file".
func (p *FileProvider) Name() string { return "file" }

// Resolve reads the file named by ref.
func (p *FileProvider) Resolve(_ context.Context, ref string) (string, error) {
	path := ref
	if !filepath.IsAbs(path) && p.Dir != "" {
		path = filepath.Join(p.Dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: file %s", ErrNotFound, ref)
		}
		return "", fmt.Errorf("secret: read %s: %w", ref, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// Close is a no-op.
func (p *FileProvider) Close() error { return nil }

// DotenvProvider resolves a reference as a key in a .env file. The file is
// parsed once on first use.
type DotenvProvider struct {
	Path string

	once   sync.Once
	values map[string]string
	err    error
}

// Name returns "dotenv".
func (p *DotenvProvider) Name() string { return "dotenv" }

// Resolve returns the value of key ref in the .env file.
func (p *DotenvProvider) Resolve(_ context.Context, ref string) (string, error) {
	p.once.Do(func() {
		p.values, p.err = godotenv.Read(p.Path)
	})
	if p.err != nil {
		return "", fmt.Errorf("secret: read %s: %w", p.Path, p.err)
	}
	v, ok := p.values[ref]
	if !ok {
		return "", fmt.Errorf("%w: dotenv %s", ErrNotFound, ref)
	}
	return v, nil
}

// Close is a no-op.
func (p *DotenvProvider) Close() error { return nil }

var (
	_ Provider = EnvProvider{}
	_ Provider = (*FileProvider)(nil)
	_ Provider = (*DotenvProvider)(nil)
)
