package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/byteforge/forgelive/internal/api"
	"github.com/byteforge/forgelive/internal/config"
	"github.com/byteforge/forgelive/internal/logger"
	"github.com/byteforge/forgelive/internal/store"
	"github.com/byteforge/forgelive/internal/workspace"
	"github.com/byteforge/forgelive/internal/ws"
)

type globalOptions struct {
	configPath string
	logLevel   string
}

// env is what every command needs: config, logger, REST client and the
// optional local cache.
type env struct {
	cfg   *config.Config
	log   *slog.Logger
	api   *api.Client
	cache *store.Store

	closeLog func() error
}

func setup(opts *globalOptions) (*env, error) {
	path := opts.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	closeLog, err := logger.Init(level, cfg.Logging.File)
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:      cfg,
		log:      logger.Log,
		api:      api.NewClient(cfg.APIURL(), cfg.Token),
		closeLog: closeLog,
	}
	if cfg.CacheEnabled() {
		s, err := store.Open(cfg.Cache.Path)
		if err != nil {
			// the cache is an optimisation; carry on without it
			e.log.Warn("cache unavailable", "path", cfg.Cache.Path, "err", err)
		} else {
			e.cache = s
		}
	}
	return e, nil
}

func (e *env) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
	if e.closeLog != nil {
		e.closeLog()
	}
}

// identity combines the token's claims with any overrides from the config.
func (e *env) identity() (ws.Identity, error) {
	var id ws.Identity
	if e.cfg.Token != "" {
		fromToken, exp, err := api.IdentityFromToken(e.cfg.Token)
		if err != nil {
			e.log.Warn("could not read identity from token", "err", err)
		} else {
			id = fromToken
			if !exp.IsZero() && time.Now().After(exp) {
				e.log.Warn("access token has expired", "expired_at", exp.Format(time.RFC3339))
			}
		}
	}
	if e.cfg.Identity.UserID != 0 {
		id.UserID = ws.ID(e.cfg.Identity.UserID)
	}
	if e.cfg.Identity.Username != "" {
		id.Username = e.cfg.Identity.Username
	}
	if e.cfg.Identity.Email != "" {
		id.Email = e.cfg.Identity.Email
	}
	if id.UserID == 0 {
		return id, fmt.Errorf("no user id: set token or identity.user_id in the config")
	}
	return id, nil
}

// loadFiles fetches the project's file list, refreshing the cache. When the
// server cannot be reached the cached snapshot is used instead.
func (e *env) loadFiles(ctx context.Context, projectID string) (*workspace.Workspace, error) {
	w := workspace.New(e.log)
	files, err := e.api.ListFiles(ctx, projectID)
	if err == nil {
		nodes := make([]workspace.FileNode, 0, len(files))
		for _, f := range files {
			nodes = append(nodes, workspace.FromWire(f))
		}
		w.Load(nodes)
		if e.cache != nil {
			if err := e.cache.SaveSnapshot(projectID, nodes); err != nil {
				e.log.Warn("cache snapshot failed", "project", projectID, "err", err)
			}
		}
		return w, nil
	}
	if e.cache == nil {
		return nil, err
	}
	nodes, savedAt, cerr := e.cache.LoadSnapshot(projectID)
	if cerr != nil || savedAt.IsZero() {
		return nil, err
	}
	e.log.Warn("server unavailable, using cached file list", "project", projectID, "cached_at", savedAt.Local().Format(time.DateTime), "err", err)
	w.Load(nodes)
	return w, nil
}

// newClient builds an unconnected client. Register subscribers before
// connect so nothing the server sends after AUTH is missed.
func (e *env) newClient() (*ws.Client, error) {
	id, err := e.identity()
	if err != nil {
		return nil, err
	}
	c := ws.NewClient(e.cfg.WebSocketURL(), e.log)
	c.Token = e.cfg.Token
	c.SetReconnectPolicy(e.cfg.Reconnect.Delay, e.cfg.Reconnect.MaxAttempts)
	c.SetIdentity(id)
	return c, nil
}

func (e *env) connect(ctx context.Context, c *ws.Client, projectID string) error {
	if !c.Connect(ctx, projectID) {
		return fmt.Errorf("could not connect to project %s", projectID)
	}
	return nil
}
