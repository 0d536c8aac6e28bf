// Package app wires storage, the extraction backend and the memory service
// for the server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto"

	"github.com/iammorganparry/clive/apps/usermemory/internal/config"
	"github.com/iammorganparry/clive/apps/usermemory/internal/llm"
	"github.com/iammorganparry/clive/apps/usermemory/internal/memory"
	"github.com/iammorganparry/clive/apps/usermemory/internal/store"
)

const tagCacheSize = 10_000

type App struct {
	Config    *config.Config
	DB        *store.DB
	Memories  *store.MemoryStore
	Tags      *store.TagStore
	Chats     *store.ChatStore
	Completer llm.Completer // nil when extraction is disabled
	Service   *memory.Service
	Logger    *slog.Logger

	tagCache *ristretto.Cache
}

// New opens the database and builds the memory service described by cfg.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	completer, err := llm.New(llm.Options{
		Provider:    cfg.Extraction.Provider,
		Model:       cfg.Extraction.Model,
		APIKey:      cfg.Extraction.APIKey(),
		BaseURL:     cfg.Extraction.BaseURL(),
		MaxTokens:   cfg.Extraction.MaxTokens,
		Temperature: cfg.Extraction.Temperature,
		Timeout:     cfg.Extraction.Timeout(),
		MaxRetries:  2,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("extraction backend: %w", err)
	}

	var tagCache *ristretto.Cache
	if cfg.TagCacheEnabled {
		tagCache, err = memory.NewTagCache(tagCacheSize)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	var extractor memory.FactExtractor
	if completer != nil {
		extractor = memory.NewLLMExtractor(completer)
		logger.Info("memory extraction enabled", "provider", completer.Name(), "model", cfg.Extraction.Model)
	} else {
		logger.Info("memory extraction disabled")
	}

	memories := store.NewMemoryStore(db)
	tags := store.NewTagStore(db)
	chats := store.NewChatStore(db)
	svc := memory.NewService(memories, tags, chats, extractor, memory.Options{
		TranscriptExchanges: cfg.TranscriptExchanges,
		StripPrivate:        cfg.StripPrivate,
		TagCache:            tagCache,
	}, logger)

	return &App{
		Config:    cfg,
		DB:        db,
		Memories:  memories,
		Tags:      tags,
		Chats:     chats,
		Completer: completer,
		Service:   svc,
		Logger:    logger,
		tagCache:  tagCache,
	}, nil
}

// ProviderName reports the active extraction backend, or "none".
func (a *App) ProviderName() string {
	if a.Completer == nil {
		return llm.ProviderNone
	}
	return a.Completer.Name()
}

// Ping checks the database.
func (a *App) Ping(ctx context.Context) error {
	return a.DB.Ping(ctx)
}

// Close releases the tag cache and the database.
func (a *App) Close() error {
	if a.tagCache != nil {
		a.tagCache.Close()
	}
	return a.DB.Close()
}
