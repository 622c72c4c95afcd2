package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	fssource "github.com/opengs/ragchunk/source/fs"
	"github.com/opengs/ragchunk/storage"
	"github.com/spf13/cobra"
)

var ingestCMD = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Ingest directory into collection",
	Long:  "Chunks, embeds and stores every supported document of the directory. Unchanged documents are not processed again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		if collection == "" {
			collection = uuid.NewString()
		}
		if err := storage.ValidateCollectionUUID(storage.CollectionUUID(collection)); err != nil {
			return err
		}

		if info, err := os.Stat(args[0]); err != nil {
			return err
		} else if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", args[0])
		}

		engine, eStorage, err := openEngine(cmd, fssource.New(os.DirFS(args[0]), ".", collection))
		if err != nil {
			return err
		}
		defer eStorage.Close()

		pruneAfter, _ := cmd.Flags().GetDuration("prune-stale")
		pruned, err := pruneStaleDocuments(cmd.Context(), eStorage, pruneAfter, time.Now())
		if err != nil {
			return err
		}
		if pruned > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d unfinished documents\n", pruned)
		}

		report, err := engine.Process(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "collection %s: processed %d, unchanged %d, skipped %d, failed %d\n",
			collection, report.Processed, report.Unchanged, report.Skipped, report.Failed)
		return err
	},
}

var searchCMD = &cobra.Command{
	Use:   "search <query>",
	Short: "Search similar chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collectionNames, _ := cmd.Flags().GetStringSlice("collection")
		limit, _ := cmd.Flags().GetUint32("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		engine, eStorage, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eStorage.Close()

		collections := make([]storage.CollectionUUID, 0, len(collectionNames))
		for _, name := range collectionNames {
			collections = append(collections, storage.CollectionUUID(name))
		}

		results, err := engine.Search(cmd.Context(), strings.Join(args, " "), collections, limit)
		if err != nil {
			return err
		}

		if asJSON {
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(results)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tCOLLECTION\tDOCUMENT\tCHUNK\tCONTENT")
		for _, result := range results {
			fmt.Fprintf(w, "%.4f\t%s\t%s\t%d\t%s\n", result.Score, result.Chunk.Collection, result.Document.Path, result.Chunk.Index, previewLine(result.Chunk.Content))
		}
		return w.Flush()
	},
}

var deleteCMD = &cobra.Command{
	Use:   "delete",
	Short: "Delete document with its chunks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		document, _ := cmd.Flags().GetString("document")
		if collection == "" || document == "" {
			return errors.New("both --collection and --document are required")
		}

		engine, eStorage, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eStorage.Close()

		return engine.DeleteDocument(cmd.Context(), storage.CollectionUUID(collection), storage.DocumentUUID(document))
	},
}

type staleDocumentsDeleter interface {
	DeleteStaleDocuments(ctx context.Context, olderThan time.Time) (int64, error)
}

// Deletes documents left unfinished for longer than `after`. Zero or negative `after` disables pruning.
func pruneStaleDocuments(ctx context.Context, s staleDocumentsDeleter, after time.Duration, now time.Time) (int64, error) {
	if after <= 0 {
		return 0, nil
	}
	pruned, err := s.DeleteStaleDocuments(ctx, now.Add(-after))
	if err != nil {
		return 0, errors.Join(errors.New("failed to prune stale documents"), err)
	}
	return pruned, nil
}

func previewLine(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) > 80 {
		return string(runes[:80]) + "..."
	}
	return content
}

func init() {
	addChunkFlags(ingestCMD)
	ingestCMD.Flags().String("collection", "", "Collection of ingested documents. Random UUID when empty")
	ingestCMD.Flags().Duration("prune-stale", 0, "Before ingesting, delete documents whose processing started longer ago than this and never finished. Zero disables")

	searchCMD.Flags().StringSlice("collection", nil, "Collections to search. All collections when empty")
	searchCMD.Flags().Uint32("limit", 10, "Maximum number of results")
	searchCMD.Flags().Bool("json", false, "Print results as JSON")

	deleteCMD.Flags().String("collection", "", "Collection of the document")
	deleteCMD.Flags().String("document", "", "Document UUID")
}
