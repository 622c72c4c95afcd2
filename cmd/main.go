package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/opengs/ragchunk"
	"github.com/opengs/ragchunk/internal/config"
	"github.com/opengs/ragchunk/internal/logger"
	"github.com/opengs/ragchunk/source"
	"github.com/opengs/ragchunk/storage/pgvector"
	"github.com/spf13/cobra"
)

var mainCMD = &cobra.Command{
	Use:   "ragchunk",
	Short: "Chunk documents for retrieval augmented generation",
	Long:  "Splits documents into overlapping token bounded chunks, embeds and stores them for similarity search.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	logger.AddFlags(mainCMD)
	mainCMD.PersistentFlags().String("config", "", "Path to the config file. Defaults to ./ragchunk.yaml or ~/.ragchunk/config.yaml")

	mainCMD.AddCommand(chunkCMD)
	mainCMD.AddCommand(presetsCMD)
	mainCMD.AddCommand(installCMD)
	mainCMD.AddCommand(uninstallCMD)
	mainCMD.AddCommand(ingestCMD)
	mainCMD.AddCommand(searchCMD)
	mainCMD.AddCommand(deleteCMD)
	mainCMD.AddCommand(serveCMD)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := mainCMD.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func addChunkFlags(cmd *cobra.Command) {
	cmd.Flags().String("preset", "", "Chunking preset: small, medium, large or paragraph")
	cmd.Flags().Int("chunk-size", 0, "Maximum chunk size in estimated tokens. Overrides preset")
	cmd.Flags().Int("chunk-overlap", 0, "Overlap between chunks in estimated tokens. Overrides preset")
	cmd.Flags().StringArray("separator", nil, `Separator from the coarsest to the finest. Repeatable, escapes like \n are allowed`)
	strategies := make([]string, 0, len(ragchunk.ChunkStrategies()))
	for _, strategy := range ragchunk.ChunkStrategies() {
		strategies = append(strategies, string(strategy))
	}
	cmd.Flags().String("strategy", "", "Chunking strategy: "+strings.Join(strategies, ", "))
}

// Loads config and applies command flags on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Lookup("preset") == nil {
		return cfg, nil
	}

	if cmd.Flags().Changed("preset") {
		cfg.Chunking.Preset, _ = cmd.Flags().GetString("preset")
		cfg.Chunking.ChunkSize = nil
		cfg.Chunking.ChunkOverlap = nil
	}
	if cmd.Flags().Changed("chunk-size") {
		size, _ := cmd.Flags().GetInt("chunk-size")
		cfg.Chunking.ChunkSize = &size
	}
	if cmd.Flags().Changed("chunk-overlap") {
		overlap, _ := cmd.Flags().GetInt("chunk-overlap")
		cfg.Chunking.ChunkOverlap = &overlap
	}
	if cmd.Flags().Changed("separator") {
		separators, _ := cmd.Flags().GetStringArray("separator")
		cfg.Chunking.Separators = unescapeSeparators(separators)
	}
	if cmd.Flags().Changed("strategy") {
		strategy, _ := cmd.Flags().GetString("strategy")
		if !slices.Contains(ragchunk.ChunkStrategies(), ragchunk.ChunkStrategy(strategy)) {
			return nil, fmt.Errorf("%w: %q", ragchunk.ErrUnknownStrategy, strategy)
		}
		cfg.Chunking.Strategy = strategy
	}

	return cfg, nil
}

func unescapeSeparators(separators []string) []string {
	result := make([]string, 0, len(separators))
	for _, separator := range separators {
		if unquoted, err := strconv.Unquote(`"` + separator + `"`); err == nil {
			separator = unquoted
		}
		result = append(result, separator)
	}
	return result
}

// Opens pgvector storage described by the config.
func openStorage(ctx context.Context, cfg *config.Config, dimensions uint32) (*pgvector.PGVectorStorage, error) {
	dbURL, err := cfg.DatabaseURL()
	if err != nil {
		return nil, err
	}
	return pgvector.Open(ctx, dbURL, cfg.StorageOptions(dimensions)...)
}

// Builds engine over pgvector storage. Caller must close returned storage.
func openEngine(cmd *cobra.Command, sources ...source.Source) (*ragchunk.Engine, *pgvector.PGVectorStorage, error) {
	log, err := logger.FromFlags(cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	chunkOptions, err := cfg.ChunkOptions()
	if err != nil {
		return nil, nil, err
	}
	eEmbedder, err := cfg.NewEmbedder()
	if err != nil {
		return nil, nil, err
	}

	eStorage, err := openStorage(cmd.Context(), cfg, eEmbedder.Dimensions())
	if err != nil {
		return nil, nil, errors.Join(errors.New("failed to open storage"), err)
	}

	engine, err := ragchunk.NewEngine(eStorage, eEmbedder, cfg.Strategy(), chunkOptions,
		ragchunk.WithSources(sources...),
		ragchunk.WithParallelism(cfg.Parallelism),
		ragchunk.WithLogger(log),
	)
	if err != nil {
		eStorage.Close()
		return nil, nil, err
	}

	return engine, eStorage, nil
}
