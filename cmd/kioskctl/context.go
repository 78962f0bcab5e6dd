package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/artkiosk/kiosk/internal/config"
	"github.com/artkiosk/kiosk/internal/history"
	"github.com/artkiosk/kiosk/internal/logging"
	"github.com/artkiosk/kiosk/internal/rotator"
)

type commandContext struct {
	configFlag *string
	addrFlag   *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, addrFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		addrFlag:   addrFlag,
		tokenFlag:  tokenFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil || strings.TrimSpace(*c.configFlag) == "" {
		return defaultConfigPath
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.LoadConfig(c.configPath())
	})
	return c.config, c.configErr
}

// remote returns the control API client, or nil when --addr is not set.
func (c *commandContext) remote() *apiClient {
	if c.addrFlag == nil || strings.TrimSpace(*c.addrFlag) == "" {
		return nil
	}
	token := ""
	if c.tokenFlag != nil {
		token = strings.TrimSpace(*c.tokenFlag)
	}
	return newAPIClient(strings.TrimSpace(*c.addrFlag), token)
}

// openHistory opens the configured rotation history.
func (c *commandContext) openHistory(ctx context.Context) (history.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.History.Enabled() {
		return nil, fmt.Errorf("rotation history is disabled (set history.dsn in %s)", c.configPath())
	}
	return history.Open(ctx, cfg.History.Driver, cfg.History.DSN)
}

// newRotator builds a rotator from the configuration file. The returned
// cleanup closes the history store when one was opened.
func (c *commandContext) newRotator(ctx context.Context) (*rotator.Rotator, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	var opts []rotator.Option
	if cfg.History.Enabled() {
		store, err := history.Open(ctx, cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = store.Close() }
		opts = append(opts, rotator.WithRecorder(store))
	}

	rot, err := rotator.New(rotator.OptionsFromConfig(cfg), logging.Discard(), opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return rot, cleanup, nil
}
