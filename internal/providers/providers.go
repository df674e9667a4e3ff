// Package providers assembles the capability adapters the pipeline drives
// from configuration.
package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jimdaga/reelpipe/internal/config"
	"github.com/jimdaga/reelpipe/internal/pipeline"
	"github.com/jimdaga/reelpipe/internal/prompts"
	"github.com/jimdaga/reelpipe/internal/providers/command"
	"github.com/jimdaga/reelpipe/internal/providers/downloader"
	"github.com/jimdaga/reelpipe/internal/providers/ffmpeg"
	"github.com/jimdaga/reelpipe/internal/providers/llm"
	"github.com/jimdaga/reelpipe/internal/providers/search"
	"github.com/jimdaga/reelpipe/internal/providers/transcriber"
)

// newTokenCounter loads the tokenizer; tests swap it to stay offline
var newTokenCounter = llm.NewTokenCounter

// Stubs returns adapters that never leave the process
func Stubs() pipeline.Adapters {
	return pipeline.Adapters{
		Downloader:  downloader.Stub{},
		Transcriber: transcriber.Stub{},
		Translator:  llm.Stub{},
		Renderer:    ffmpeg.Stub{},
		Copywriter:  llm.Stub{},
		Searcher:    search.Stub{},
	}
}

// New builds the adapters cfg asks for. With StubProviders set every adapter
// is a stub; otherwise adapters whose credentials are missing fall back to
// stubs with a warning, except the LLM which requires OPENAI_API_KEY.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.Adapters, error) {
	if cfg.StubProviders {
		logger.Warn("Using stub providers")
		return Stubs(), nil
	}

	runner := command.Exec{}
	adapters := Stubs()

	adapters.Downloader = downloader.NewClient(downloader.Options{
		ResolverURL: cfg.DownloaderAPIURL,
		ResolverKey: cfg.DownloaderAPIKey,
		YtDlpPath:   cfg.YtDlpPath,
		RatePerSec:  cfg.DownloaderRatePerSec,
	}, runner, logger)

	adapters.Renderer = ffmpeg.NewRenderer(cfg.FFmpegPath, cfg.FFprobePath, runner, logger)

	router := &transcriber.Router{
		Local: transcriber.NewWhisper(cfg.FFmpegPath, cfg.WhisperPath, cfg.WhisperModelPath, runner, logger),
	}
	if cfg.TranscribeAPIURL != "" {
		router.Remote = transcriber.NewRemote(cfg.TranscribeAPIURL, cfg.TranscribeAPISecret, cfg.TranscribeTimeout)
	}
	adapters.Transcriber = router

	reg, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return pipeline.Adapters{}, err
	}
	tokens, err := newTokenCounter()
	if err != nil {
		logger.Warn("Token counting falls back to estimates", "error", err)
		tokens = nil
	}
	client, err := llm.NewClient(llm.Options{
		APIKey:            cfg.OpenAIAPIKey,
		Model:             cfg.OpenAIModel,
		RatePerSec:        cfg.LLMRatePerSec,
		MaxSubtitleTokens: cfg.LLMMaxSubtitleTokens,
		Language:          cfg.CopyLanguage,
	}, reg, tokens, logger)
	if err != nil {
		return pipeline.Adapters{}, fmt.Errorf("llm: %w", err)
	}
	adapters.Translator = client
	adapters.Copywriter = client

	if cfg.SearchAPIKey == "" {
		logger.Warn("SEARCH_API_KEY not set, search returns stub results")
	} else {
		g, err := search.NewGoogle(ctx, cfg.SearchAPIURL, cfg.SearchAPIKey, cfg.SearchEngineID)
		if err != nil {
			return pipeline.Adapters{}, fmt.Errorf("search: %w", err)
		}
		adapters.Searcher = g
	}

	return adapters, nil
}
