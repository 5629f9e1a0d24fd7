// Package config loads the csvdb configuration file and builds the blob store
// and facade options it describes.
//
// Configuration is read from a YAML file, then secrets are overridden from a
// .env file next to it. Command line flags are applied last by the caller,
// which must then call Validate.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/maruel/csvdb/internal/blob"
	"github.com/maruel/csvdb/internal/csvdb"
	"github.com/maruel/csvdb/internal/githubapp"
	"github.com/maruel/csvdb/internal/storage"
	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

// Config is the content of the configuration file.
type Config struct {
	Backend         string       `yaml:"backend" jsonschema:"enum=dir,enum=git,enum=github,enum=memory,description=Blob store holding the tables"`
	BasePath        string       `yaml:"base_path" jsonschema:"description=Directory of the tables inside the store"`
	Ext             string       `yaml:"ext" jsonschema:"description=Table file extension without the dot"`
	Locale          string       `yaml:"locale" jsonschema:"description=BCP 47 locale used to order text values"`
	Concurrency     string       `yaml:"concurrency" jsonschema:"enum=cas,enum=refetch,description=Version passed to conditional writes"`
	ConflictRetries int          `yaml:"conflict_retries" jsonschema:"minimum=0,description=Times a mutation is rerun after a conflict"`
	Dir             DirConfig    `yaml:"dir"`
	Git             GitConfig    `yaml:"git"`
	GitHub          GitHubConfig `yaml:"github"`
}

// DirConfig configures the dir backend.
type DirConfig struct {
	Root string `yaml:"root" jsonschema:"description=Directory holding the store"`
}

// GitConfig configures the git backend.
type GitConfig struct {
	Root        string `yaml:"root" jsonschema:"description=Git repository holding the store; created if missing"`
	AuthorName  string `yaml:"author_name,omitempty"`
	AuthorEmail string `yaml:"author_email,omitempty"`
}

// GitHubConfig configures the github backend.
//
// Authentication uses Token when set, else the GitHub App credentials, else
// anonymous access.
type GitHubConfig struct {
	Owner          string `yaml:"owner"`
	Repo           string `yaml:"repo"`
	Branch         string `yaml:"branch,omitempty"`
	BaseURL        string `yaml:"base_url,omitempty" jsonschema:"description=API root; defaults to https://api.github.com"`
	Token          string `yaml:"token,omitempty" jsonschema:"description=Personal access token; prefer GITHUB_TOKEN in .env"`
	AppID          int64  `yaml:"app_id,omitempty"`
	InstallationID int64  `yaml:"installation_id,omitempty"`
	PrivateKeyPath string `yaml:"private_key_path,omitempty"`
	RequestsPerMin int    `yaml:"requests_per_min,omitempty" jsonschema:"minimum=0"`
	Burst          int    `yaml:"burst,omitempty" jsonschema:"minimum=0"`
	CommitterName  string `yaml:"committer_name,omitempty"`
	CommitterEmail string `yaml:"committer_email,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Backend:     "dir",
		BasePath:    "db",
		Ext:         "csv",
		Locale:      "und",
		Concurrency: "cas",
		Dir:         DirConfig{Root: "data"},
		Git:         GitConfig{Root: "data"},
	}
}

// Load reads the YAML file at path over the defaults and applies the .env file
// of its directory. A missing file yields the defaults. Relative roots are
// resolved against the file's directory.
func Load(path string) (*Config, error) {
	c := Default()
	dir := "."
	if path != "" {
		dir = filepath.Dir(path)
		data, err := os.ReadFile(path) //nolint:gosec // G304: path is the -config flag
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	env, err := LoadDotEnv(dir)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(env); err != nil {
		return nil, err
	}
	c.Dir.Root = resolve(dir, c.Dir.Root)
	c.Git.Root = resolve(dir, c.Git.Root)
	if c.GitHub.PrivateKeyPath != "" {
		c.GitHub.PrivateKeyPath = resolve(dir, c.GitHub.PrivateKeyPath)
	}
	return c, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// ApplyEnv overrides the GitHub credentials from env.
func (c *Config) ApplyEnv(env map[string]string) error {
	if v := env["GITHUB_TOKEN"]; v != "" {
		c.GitHub.Token = v
	}
	if v := env["GITHUB_APP_ID"]; v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid GITHUB_APP_ID: %w", err)
		}
		c.GitHub.AppID = id
	}
	if v := env["GITHUB_INSTALLATION_ID"]; v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid GITHUB_INSTALLATION_ID: %w", err)
		}
		c.GitHub.InstallationID = id
	}
	if v := env["GITHUB_PRIVATE_KEY_PATH"]; v != "" {
		c.GitHub.PrivateKeyPath = v
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case "memory":
	case "dir":
		if c.Dir.Root == "" {
			errs = append(errs, errors.New("dir.root is required"))
		}
	case "git":
		if c.Git.Root == "" {
			errs = append(errs, errors.New("git.root is required"))
		}
	case "github":
		g := &c.GitHub
		if g.Owner == "" || g.Repo == "" {
			errs = append(errs, errors.New("github.owner and github.repo are required"))
		}
		if g.Token == "" && g.AppID != 0 && (g.InstallationID == 0 || g.PrivateKeyPath == "") {
			errs = append(errs, errors.New("github.app_id requires installation_id and private_key_path"))
		}
		if g.RequestsPerMin < 0 || g.Burst < 0 {
			errs = append(errs, errors.New("github.requests_per_min and github.burst must be non-negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if _, err := c.policy(); err != nil {
		errs = append(errs, err)
	}
	if c.ConflictRetries < 0 {
		errs = append(errs, errors.New("conflict_retries must be non-negative"))
	}
	if _, err := csvdb.ParseComparator(c.Locale); err != nil {
		errs = append(errs, err)
	}
	if strings.ContainsAny(c.Ext, `/\`) {
		errs = append(errs, fmt.Errorf("invalid ext %q", c.Ext))
	}
	return errors.Join(errs...)
}

func (c *Config) policy() (storage.Policy, error) {
	switch c.Concurrency {
	case "", "cas":
		return storage.VersionFromRead, nil
	case "refetch":
		return storage.VersionRefetch, nil
	default:
		return 0, fmt.Errorf("unknown concurrency %q", c.Concurrency)
	}
}

// Options returns the facade options.
func (c *Config) Options() (storage.Options, error) {
	cmp, err := csvdb.ParseComparator(c.Locale)
	if err != nil {
		return storage.Options{}, err
	}
	p, err := c.policy()
	if err != nil {
		return storage.Options{}, err
	}
	return storage.Options{
		BasePath:        c.BasePath,
		Ext:             c.Ext,
		Comparator:      cmp,
		Policy:          p,
		ConflictRetries: c.ConflictRetries,
	}, nil
}

// OpenStore builds the configured blob store.
func (c *Config) OpenStore(ctx context.Context) (blob.Store, error) {
	switch c.Backend {
	case "memory":
		return blob.NewMemory(), nil
	case "dir":
		return blob.NewDir(c.Dir.Root)
	case "git":
		return blob.OpenGit(c.Git.Root, c.Git.AuthorName, c.Git.AuthorEmail)
	case "github":
		g := c.GitHub
		opts := blob.GitHubOptions{
			Owner:          g.Owner,
			Repo:           g.Repo,
			Branch:         g.Branch,
			BaseURL:        g.BaseURL,
			RequestsPerMin: g.RequestsPerMin,
			Burst:          g.Burst,
			CommitterName:  g.CommitterName,
			CommitterEmail: g.CommitterEmail,
		}
		switch {
		case g.Token != "":
			opts.TokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: g.Token})
		case g.AppID != 0:
			key, err := githubapp.LoadPrivateKey(g.PrivateKeyPath)
			if err != nil {
				return nil, err
			}
			opts.TokenSource = githubapp.NewClient(g.AppID, key, g.BaseURL).TokenSource(ctx, g.InstallationID)
		}
		return blob.NewGitHub(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

// Open builds the store and returns the facade on it.
func (c *Config) Open(ctx context.Context) (*storage.DB, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	store, err := c.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	return storage.New(store, opts)
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{FieldNameTag: "yaml", DoNotReference: true}
	s := r.Reflect(&Config{})
	s.Title = "csvdb configuration"
	return json.MarshalIndent(s, "", "  ")
}

// LoadDotEnv reads KEY=value lines from dir/.env. A missing file is empty.
func LoadDotEnv(dir string) (map[string]string, error) {
	env := make(map[string]string)
	path := filepath.Join(dir, ".env")
	envContent, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from the config directory
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil
		}
		return nil, err
	}

	for line := range strings.SplitSeq(string(envContent), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		if strings.HasPrefix(val, "'") || strings.HasSuffix(val, "'") {
			if strings.HasPrefix(val, "'") && strings.HasSuffix(val, "'") {
				return nil, fmt.Errorf("single quotes are not supported for wrapping in .env: %s", line)
			}
			return nil, fmt.Errorf("unbalanced single quotes in .env: %s", line)
		}

		if strings.HasPrefix(val, "\"") {
			unquoted, err := strconv.Unquote(val)
			if err != nil {
				return nil, fmt.Errorf("failed to unquote %s: %w", key, err)
			}
			val = unquoted
		}

		env[key] = val
	}
	return env, nil
}
