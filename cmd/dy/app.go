package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/zulandar/datayard/internal/config"
	"github.com/zulandar/datayard/internal/db"
	"github.com/zulandar/datayard/internal/index"
	"github.com/zulandar/datayard/internal/lock"
	"github.com/zulandar/datayard/internal/logging"
	"github.com/zulandar/datayard/internal/notify"
	"github.com/zulandar/datayard/internal/notify/discord"
	"github.com/zulandar/datayard/internal/notify/slack"
	"github.com/zulandar/datayard/internal/pipeline"
	"github.com/zulandar/datayard/internal/storage"
	"github.com/zulandar/datayard/internal/task"
	"github.com/zulandar/datayard/internal/upload"
)

// app is every component a command may need, wired from one config file.
type app struct {
	cfg     *config.Config
	store   *db.Store
	index   *index.Client
	fs      afero.Fs
	mirror  *storage.Mirror
	locks   *lock.Locker
	pool    *task.Pool
	pipe    *pipeline.Pipeline
	uploads *upload.Manager
}

// connectFromConfig loads the config and opens the catalog. Commands that
// only read or edit catalog records use this instead of openApp.
func connectFromConfig(configPath string) (*config.Config, *db.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s catalog: %w", cfg.Database.Driver, err)
	}
	return cfg, db.NewStore(gormDB), nil
}

// openApp wires the full stack. Finished runs are reported through the
// configured notifiers.
func openApp(configPath string) (*app, error) {
	cfg, store, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}

	fs, err := storage.Open(cfg.Storage.Root)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		store: store,
		index: index.New(cfg.Index.Endpoint,
			index.WithTimeout(cfg.Index.Timeout),
			index.WithRetries(cfg.Index.Retries)),
		fs:    fs,
		locks: lock.New(store),
	}

	var pipeOpts []pipeline.Option
	var uploadOpts []upload.Option
	if cfg.Storage.Mirror.Enabled() {
		m, err := storage.NewMirror(cfg.Storage.Mirror)
		if err != nil {
			return nil, err
		}
		a.mirror = m
		pipeOpts = append(pipeOpts, pipeline.WithPublisher(m))
		uploadOpts = append(uploadOpts, upload.WithMirror(m))
	}

	var poolOpts []task.PoolOption
	nf, err := notifiers(cfg.Notify)
	if err != nil {
		return nil, err
	}
	if len(nf) > 0 {
		poolOpts = append(poolOpts, task.WithOnFinish(notify.Hook(nf)))
	}
	a.pool = task.NewPool(store, a.locks, cfg.Workers, poolOpts...)

	a.pipe = pipeline.New(pipeline.Config{
		DataCore:         cfg.Index.DataCore,
		DatasetsCore:     cfg.Index.DatasetsCore,
		BatchSize:        cfg.Pipeline.BatchSize,
		Throttle:         cfg.Pipeline.Throttle,
		PageSize:         cfg.Pipeline.PageSize,
		SnifferMaxSample: cfg.Pipeline.SnifferMaxSample,
		ExportsDir:       cfg.Storage.ExportsDir,
	}, store, a.index, a.locks, fs, pipeOpts...)

	uploadOpts = append(uploadOpts, upload.WithPurge(a.pool, a.pipe))
	a.uploads = upload.New(store, fs, upload.Config{
		SnifferMaxSample: cfg.Pipeline.SnifferMaxSample,
		SampleRows:       cfg.Pipeline.SampleRows,
		TypeSampleSize:   cfg.Pipeline.TypeSampleSize,
	}, uploadOpts...)
	return a, nil
}

// close waits for scheduled runs to finish.
func (a *app) close() {
	a.pool.Close()
}

// notifiers builds one Notifier per configured destination.
func notifiers(cfg config.NotifyConfig) (notify.Multi, error) {
	var out notify.Multi
	if cfg.SlackChannel != "" {
		n, err := slack.New(slack.Opts{BotToken: cfg.SlackToken, ChannelID: cfg.SlackChannel})
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if cfg.DiscordChannel != "" {
		n, err := discord.New(discord.Opts{BotToken: cfg.DiscordToken, ChannelID: cfg.DiscordChannel})
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if cfg.Command != "" {
		out = append(out, notify.Command{Template: cfg.Command})
	}
	return out, nil
}
