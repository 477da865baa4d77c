package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"narrator/internal/client"
	"narrator/internal/clientcache"
	"narrator/internal/config"
	"narrator/internal/logging"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) client() (*client.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	cl, err := client.New(client.ConfigFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return cl, nil
}

// withCache opens the client audio cache for the duration of fn. fn receives
// nil when caching is disabled in the config.
func (c *commandContext) withCache(fn func(*clientcache.Cache) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if !cfg.Client.CacheEnabled {
		return fn(nil)
	}
	cache, err := clientcache.Open(clientcache.Options{Dir: cfg.Paths.ClientCacheDir, Logger: logging.NewNop()})
	if err != nil {
		return fmt.Errorf("open client cache: %w", err)
	}
	defer cache.Close()
	return fn(cache)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
