package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/nainya/tagstore/internal/config"
	"github.com/nainya/tagstore/internal/logger"
	"github.com/nainya/tagstore/pkg/resolve"
	"github.com/nainya/tagstore/pkg/scene"
	"github.com/nainya/tagstore/pkg/search"
	"github.com/nainya/tagstore/pkg/tagmeta"
	"github.com/nainya/tagstore/pkg/tags"
)

type commandContext struct {
	v          *viper.Viper
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
	log        *logger.Logger

	// chooser overrides the configured policy; tests set it.
	chooser resolve.Chooser
}

func newCommandContext(v *viper.Viper, configFlag *string) *commandContext {
	return &commandContext{v: v, configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		cfg, err := config.Load(c.v, path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.log = logger.InitGlobalLogger(logger.Config{
			Level:      cfg.Logging.Level,
			Pretty:     cfg.Logging.Pretty,
			Output:     os.Stderr,
			WithCaller: cfg.Logging.WithCaller,
		})
	})
	return c.config, c.configErr
}

func (c *commandContext) logs() *logger.Logger {
	if c.log == nil {
		return logger.Nop()
	}
	return c.log
}

// sceneHandle is an opened scene and how to persist it.
type sceneHandle struct {
	scene.Scene
	path   string
	memory *scene.Memory
	sqlite *scene.SQLite
}

func isDocument(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// openScene opens the configured scene. YAML documents load into memory and
// are written back by save; SQLite files persist every write.
func (c *commandContext) openScene(ctx context.Context) (*sceneHandle, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.Scene.Path
	if path == "" {
		return nil, errors.WithHint(errors.New("no scene configured"), "pass --scene or set scene.path")
	}

	if isDocument(path) {
		m, err := scene.LoadMemory(path)
		if err != nil {
			return nil, err
		}
		return &sceneHandle{Scene: m, path: path, memory: m}, nil
	}
	s, err := scene.OpenSQLite(ctx, path, scene.SQLiteOptions{Exclusive: cfg.Scene.Exclusive})
	if err != nil {
		return nil, err
	}
	return &sceneHandle{Scene: s, path: path, sqlite: s}, nil
}

// save persists a YAML scene. SQLite scenes are already durable.
func (h *sceneHandle) save() error {
	if h.memory == nil {
		return nil
	}
	return scene.SaveDocument(h.path, h.memory.Objects())
}

func (h *sceneHandle) Close() error {
	if h.sqlite != nil {
		return h.sqlite.Close()
	}
	return nil
}

func (h *sceneHandle) selectObjects(ctx context.Context, names ...string) error {
	if h.memory != nil {
		return h.memory.Select(ctx, names...)
	}
	return h.sqlite.Select(ctx, names...)
}

func (c *commandContext) registry() (*tags.Registry, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return tags.Merge(tags.Standard(), cfg.Catalogs.Files...)
}

// catalogs returns the configured departments, or only, when given.
func (c *commandContext) catalogs(only ...string) (tags.CatalogList, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	reg, err := c.registry()
	if err != nil {
		return nil, err
	}
	depts := cfg.Catalogs.Departments
	if len(only) > 0 {
		depts = only
	}
	return reg.Select(depts...)
}

func (c *commandContext) resolver() (*resolve.Resolver, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	chooser := c.chooser
	if chooser == nil {
		chooser, err = resolve.ParsePolicy(cfg.Resolve.Policy, newPromptChooser(os.Stdin, os.Stdout, c.logs()))
		if err != nil {
			return nil, err
		}
	}
	return resolve.New(resolve.WithChooser(chooser), resolve.WithLogger(c.logs().SearchLogger())), nil
}

func (c *commandContext) store(sc scene.Scene, catalogs tags.CatalogList) (*tagmeta.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	r, err := c.resolver()
	if err != nil {
		return nil, err
	}
	return tagmeta.NewStore(sc, catalogs,
		tagmeta.WithResolver(r),
		tagmeta.WithUser(cfg.Metadata.User),
		tagmeta.WithAttribute(cfg.Metadata.Attribute),
		tagmeta.WithLogger(c.logs().MetadataLogger()),
	), nil
}

func (c *commandContext) engine(sc scene.Scene, catalogs tags.CatalogList) (*search.Engine, error) {
	r, err := c.resolver()
	if err != nil {
		return nil, err
	}
	return search.NewEngine(sc, catalogs,
		search.WithResolver(r),
		search.WithLogger(c.logs().SearchLogger()),
	), nil
}
