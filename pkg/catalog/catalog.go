package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/burrowctf/burrow/pkg/log"
	"github.com/burrowctf/burrow/pkg/types"
)

var (
	// ErrUnknownChallenge is returned for names not in the catalog.
	ErrUnknownChallenge = errors.New("unknown challenge")

	// ErrInvalidManifest is returned when a challenge.json cannot be
	// parsed or fails validation.
	ErrInvalidManifest = errors.New("invalid challenge manifest")
)

// ManifestFile is the per-challenge metadata file inside each
// challenge directory.
const ManifestFile = "challenge.json"

// ImageBuilder is the slice of the runtime the catalog needs.
type ImageBuilder interface {
	BuildImage(ctx context.Context, name, dir string) error
}

// Catalog holds the deployable challenges. Challenges whose image
// failed to build are tracked separately so operators can see them,
// but they never serve instances.
type Catalog struct {
	mu         sync.RWMutex
	dir        string
	builder    ImageBuilder
	challenges map[string]*types.Challenge
	broken     map[string]string
	logger     zerolog.Logger
}

// New creates an empty catalog rooted at dir. Call LoadAll to populate it.
func New(dir string, builder ImageBuilder) *Catalog {
	return &Catalog{
		dir:        dir,
		builder:    builder,
		challenges: make(map[string]*types.Challenge),
		broken:     make(map[string]string),
		logger:     log.WithComponent("catalog"),
	}
}

// LoadAll scans the challenge directory and loads every challenge it
// finds, building each image. A challenge that fails to load or build
// is recorded as broken and skipped; LoadAll only errors when the
// directory itself is unreadable.
func (c *Catalog) LoadAll(ctx context.Context) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read challenge directory %s: %w", c.dir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, err := c.Add(ctx, entry.Name()); err != nil {
			c.logger.Warn().Err(err).Str("dir", entry.Name()).Msg("challenge excluded")
		}
	}

	c.logger.Info().
		Int("loaded", c.Len()).
		Int("broken", len(c.Broken())).
		Str("dir", c.dir).
		Msg("challenge catalog loaded")
	return nil
}

// Add loads the challenge in <dir>/<dirName> and builds its image. The
// manifest's name field is the challenge identifier and image tag; the
// directory is only the build context. On failure the challenge lands
// on the broken list and the error is returned.
func (c *Catalog) Add(ctx context.Context, dirName string) (*types.Challenge, error) {
	challengeDir := filepath.Join(c.dir, dirName)

	ch, err := loadManifest(challengeDir)
	if err != nil {
		c.markBroken(dirName, err.Error())
		return nil, err
	}

	// Build outside the lock; image builds are slow
	if err := c.builder.BuildImage(ctx, ch.Name, challengeDir); err != nil {
		c.markBroken(ch.Name, err.Error())
		return nil, err
	}

	c.mu.Lock()
	c.challenges[ch.Name] = ch
	delete(c.broken, ch.Name)
	delete(c.broken, dirName)
	c.mu.Unlock()

	c.logger.Info().
		Str("challenge", ch.Name).
		Int("port", ch.InternalPort).
		Int("user_limit", ch.UserLimit).
		Bool("can_prestart", ch.CanPrestart).
		Msg("challenge added")
	return ch, nil
}

// Register validates and installs a challenge described directly,
// rather than read from a manifest on disk. The build context is still
// <dir>/<name>: the challenge files must already be in place. Used by
// the deploy endpoint, where the manifest travels in the request body.
func (c *Catalog) Register(ctx context.Context, ch *types.Challenge) error {
	if err := validate(ch); err != nil {
		return err
	}

	challengeDir := filepath.Join(c.dir, ch.Name)
	if _, err := os.Stat(filepath.Join(challengeDir, "Dockerfile")); err != nil {
		return fmt.Errorf("%w: %s: no Dockerfile in %s", ErrInvalidManifest, ch.Name, challengeDir)
	}

	if err := c.builder.BuildImage(ctx, ch.Name, challengeDir); err != nil {
		c.markBroken(ch.Name, err.Error())
		return err
	}

	c.mu.Lock()
	c.challenges[ch.Name] = ch
	delete(c.broken, ch.Name)
	c.mu.Unlock()

	c.logger.Info().
		Str("challenge", ch.Name).
		Int("port", ch.InternalPort).
		Int("user_limit", ch.UserLimit).
		Bool("can_prestart", ch.CanPrestart).
		Msg("challenge registered")
	return nil
}

// Remove drops a challenge from the catalog and reports whether it was
// present. Running instances are the scheduler's problem.
func (c *Catalog) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.challenges[name]; !ok {
		return false
	}
	delete(c.challenges, name)
	return true
}

// Get returns the challenge by name.
func (c *Catalog) Get(name string) (*types.Challenge, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.challenges[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChallenge, name)
	}
	return ch, nil
}

// List returns all deployable challenges sorted by name.
func (c *Catalog) List() []*types.Challenge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.Challenge, 0, len(c.challenges))
	for _, ch := range c.challenges {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted names of all deployable challenges.
func (c *Catalog) Names() []string {
	list := c.List()
	names := make([]string, len(list))
	for i, ch := range list {
		names[i] = ch.Name
	}
	return names
}

// Prestartable returns the challenges marked safe to launch ahead of
// demand, sorted by name.
func (c *Catalog) Prestartable() []*types.Challenge {
	list := c.List()
	out := make([]*types.Challenge, 0, len(list))
	for _, ch := range list {
		if ch.CanPrestart {
			out = append(out, ch)
		}
	}
	return out
}

// Broken returns a copy of the broken list: name to failure reason.
func (c *Catalog) Broken() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.broken))
	for k, v := range c.broken {
		out[k] = v
	}
	return out
}

// Len returns the number of deployable challenges.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.challenges)
}

func (c *Catalog) markBroken(name, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken[name] = reason
	delete(c.challenges, name)
}

// loadManifest reads and validates <dir>/challenge.json and checks the
// build context has a Dockerfile.
func loadManifest(dir string) (*types.Challenge, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	var ch types.Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := validate(&ch); err != nil {
		return nil, err
	}

	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err != nil {
		return nil, fmt.Errorf("%w: %s: no Dockerfile in %s", ErrInvalidManifest, ch.Name, dir)
	}

	return &ch, nil
}

func validate(ch *types.Challenge) error {
	if ch.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidManifest)
	}
	if ch.InternalPort <= 0 || ch.InternalPort > 65535 {
		return fmt.Errorf("%w: %s: port %d out of range", ErrInvalidManifest, ch.Name, ch.InternalPort)
	}
	if ch.UserLimit < 1 {
		return fmt.Errorf("%w: %s: user_limit must be at least 1", ErrInvalidManifest, ch.Name)
	}
	if ch.MemLimitMB < 0 {
		return fmt.Errorf("%w: %s: negative mem_limit", ErrInvalidManifest, ch.Name)
	}
	if ch.LifetimeSeconds < 0 {
		return fmt.Errorf("%w: %s: negative lifetime", ErrInvalidManifest, ch.Name)
	}
	return nil
}
