package main

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"wastedraft/internal/logging"
	"wastedraft/internal/portalclient"
)

type commandContext struct {
	apiURL  string
	apiKey  string
	token   string
	verbose bool

	logOnce sync.Once
	logger  *zap.Logger
}

func (c *commandContext) log() *zap.Logger {
	c.logOnce.Do(func() {
		level := "warn"
		if c.verbose {
			level = "debug"
		}
		l, err := logging.New(logging.Options{Level: level, Format: "console"})
		if err != nil {
			l = zap.NewNop()
		}
		c.logger = l
	})
	return c.logger
}

func (c *commandContext) client() (*portalclient.Client, error) {
	if strings.TrimSpace(c.apiKey) == "" && strings.TrimSpace(c.token) == "" {
		return nil, errors.New("no credentials: pass --api-key or --token (or set WASTEDRAFT_API_KEY)")
	}
	opts := []portalclient.Option{portalclient.WithLogger(c.log().Named("api"))}
	if strings.TrimSpace(c.token) != "" {
		opts = append(opts, portalclient.WithBearerToken(c.token))
	} else {
		opts = append(opts, portalclient.WithAPIKey(c.apiKey))
	}
	return portalclient.New(c.apiURL, opts...)
}
