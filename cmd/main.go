package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/clinrag/clinrag/internal/types"
	"github.com/clinrag/clinrag/pkg/chunker"
	"github.com/clinrag/clinrag/pkg/config"
	"github.com/clinrag/clinrag/pkg/embed"
	"github.com/clinrag/clinrag/pkg/extract"
	"github.com/clinrag/clinrag/pkg/llm"
	"github.com/clinrag/clinrag/pkg/prompt"
	"github.com/clinrag/clinrag/pkg/retrieval"
	"github.com/clinrag/clinrag/pkg/store"
	"github.com/clinrag/clinrag/server"
)

type options struct {
	configPath string
	patientID  string
	ingest     string
	stats      bool
	remove     bool
	serve      bool
	chat       bool
}

func main() {
	godotenv.Load()

	opts := parseFlags()

	if err := run(opts); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() options {
	var opts options

	flag.StringVar(&opts.configPath, "config", "", "Path to config file")
	flag.StringVar(&opts.patientID, "patient", "", "Patient identifier to operate on")
	flag.StringVar(&opts.ingest, "ingest", "", "File or directory of documents to ingest")
	flag.BoolVar(&opts.stats, "stats", false, "Show document and chunk counts for the patient")
	flag.BoolVar(&opts.remove, "remove", false, "Remove all documents for the patient")
	flag.BoolVar(&opts.serve, "serve", false, "Run the HTTP server")
	flag.BoolVar(&opts.chat, "chat", false, "Chat with the model instead of showing raw matches")
	flag.Parse()

	return opts
}

func run(opts options) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %s: %s", e.Field, e.Message)
		}
		return fmt.Errorf("invalid configuration")
	}

	chain := buildEmbeddingChain(cfg)

	index, err := buildIndex(cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	docChunker := chunker.NewWithConfig(chunker.ChunkerConfig{
		ChunkSize:      cfg.Chunker.ChunkSize,
		ChunkOverlap:   cfg.Chunker.ChunkOverlap,
		MinChunkLength: cfg.Chunker.MinChunkLength,
	})

	service := retrieval.New(docChunker, chain, index, retrieval.ServiceConfig{
		TopK:      cfg.Retrieval.TopK,
		BatchSize: cfg.Retrieval.BatchSize,
	})

	if opts.serve {
		chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			BaseURL:     cfg.LLM.BaseURL,
			Temperature: cfg.LLM.Temperature,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize chat engine: %v", err)
		}

		srv := server.New(server.Config{
			Addr:           cfg.Server.Addr,
			ContextBudget:  cfg.Retrieval.ContextBudget,
			Streaming:      true,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, service, chatEngine)
		return srv.ListenAndServe()
	}

	if opts.patientID == "" {
		return fmt.Errorf("a -patient is required")
	}

	ctx := context.Background()

	if opts.remove {
		if service.RemovePatientDocuments(ctx, opts.patientID) {
			color.Green("✓ Removed all documents for %s", opts.patientID)
		} else {
			color.Yellow("Nothing removed for %s", opts.patientID)
		}
		return nil
	}

	if opts.ingest != "" {
		if err := ingestPath(ctx, service, opts.patientID, opts.ingest); err != nil {
			return err
		}
	}

	if opts.stats {
		stats := service.GetStats(ctx, opts.patientID)
		color.Cyan("Patient %s: %d documents, %d chunks",
			opts.patientID, stats.DocumentCount, stats.ChunkCount)
		return nil
	}

	if opts.ingest != "" && !opts.chat {
		return nil
	}

	return queryLoop(ctx, cfg, service, opts)
}

func buildEmbeddingChain(cfg *config.Config) *embed.Chain {
	var providers []embed.Provider

	if cfg.Embedding.OpenAIKey != "" {
		provider, err := embed.NewOpenAIProvider(embed.OpenAIConfig{
			APIKey: cfg.Embedding.OpenAIKey,
			Model:  cfg.Embedding.OpenAIModel,
		})
		if err != nil {
			color.Yellow("openai embeddings disabled: %v", err)
		} else {
			providers = append(providers, provider)
		}
	}

	if cfg.Embedding.OllamaBaseURL != "" {
		provider, err := embed.NewOllamaProvider(embed.OllamaConfig{
			Model:   cfg.Embedding.OllamaModel,
			BaseURL: cfg.Embedding.OllamaBaseURL,
		})
		if err != nil {
			color.Yellow("ollama embeddings disabled: %v", err)
		} else {
			providers = append(providers, provider)
		}
	}

	return embed.NewChain(embed.ChainConfig{
		TargetDim:       cfg.Embedding.TargetDim,
		ProviderTimeout: time.Duration(cfg.Embedding.ProviderTimeout) * time.Second,
		RateLimit:       cfg.Embedding.RateLimit,
	}, providers...)
}

func buildIndex(cfg *config.Config) (types.VectorIndex, error) {
	if cfg.Database.URL == "" {
		color.Yellow("DATABASE_URL not set, using in-memory index (not persisted)")
		return store.NewMemoryStore(cfg.Embedding.TargetDim), nil
	}

	vectorStore, err := store.NewWithConfig(store.VectorStoreConfig{
		ConnString: cfg.Database.URL,
		TableName:  cfg.Database.TableName,
		VectorDim:  cfg.Embedding.TargetDim,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %v", err)
	}
	return vectorStore, nil
}

func ingestPath(ctx context.Context, service *retrieval.Service, patientID, path string) error {
	files, err := collectFiles(path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found at %s", path)
	}

	extractor := extract.NewWithConfig(extract.ExtractorConfig{})

	color.Blue("\nIngesting %d file(s) for patient %s\n", len(files), patientID)
	bar := getProgressBar(len(files), "Ingesting documents...")

	var stored, total int
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			color.Red("skipping %s: %v", file, err)
			bar.Add(1)
			continue
		}

		text, err := extractor.Extract(filepath.Base(file), data)
		if err != nil {
			color.Red("skipping %s: %v", file, err)
			bar.Add(1)
			continue
		}

		result, err := service.AddDocument(ctx, patientID, filepath.Base(file), text)
		if err != nil {
			color.Red("skipping %s: %v", file, err)
			bar.Add(1)
			continue
		}

		stored += result.ChunksStored
		total += result.ChunksTotal
		bar.Add(1)
	}
	bar.Finish()

	if stored == 0 && total > 0 {
		color.Yellow("\n✓ Processed %d chunks, none stored (vector store unavailable)\n", total)
	} else {
		color.Green("\n✓ Stored %d of %d chunks\n", stored, total)
	}
	return nil
}

func collectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %v", path, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	return files, nil
}

func queryLoop(ctx context.Context, cfg *config.Config, service *retrieval.Service, opts options) error {
	var chatEngine *llm.ChatEngine
	if opts.chat {
		engine, err := llm.NewWithConfig(llm.ChatConfig{
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			BaseURL:     cfg.LLM.BaseURL,
			Temperature: cfg.LLM.Temperature,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize chat engine: %v", err)
		}
		chatEngine = engine
	}

	color.Cyan("\nAsk about patient %s (type 'exit' to quit)", opts.patientID)

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.ToLower(query) == "exit" {
			break
		}
		if query == "" {
			continue
		}

		spinner := getSpinner("Searching patient records...")
		matches := service.QueryRelevantContent(ctx, opts.patientID, query, cfg.Retrieval.TopK)
		spinner.Finish()
		fmt.Print("\r")

		if len(matches) == 0 {
			color.Yellow("No relevant content found.")
			continue
		}

		grounding := prompt.BuildContext(matches, cfg.Retrieval.ContextBudget)

		if chatEngine == nil {
			for _, m := range matches {
				assistantPrompt("\n[%.3f] %s\n", m.Score, m.DocumentName)
				fmt.Println(m.Content)
			}
			color.Blue("\nSources: %s\n", strings.Join(grounding.Sources, ", "))
			continue
		}

		stream, err := chatEngine.ChatStream(ctx, query, grounding)
		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}

		fmt.Print("\n")
		assistantPrompt("Assistant: ")
		for chunk := range stream {
			if strings.HasPrefix(chunk, "Error:") {
				color.Red("\n%s\n", chunk)
				break
			}
			fmt.Print(chunk)
		}
		fmt.Print("\n")
		color.Blue("Sources: %s\n", strings.Join(grounding.Sources, ", "))
	}

	return nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
