package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/opengs/ragchunk"
	"github.com/opengs/ragchunk/chunker"
	"github.com/spf13/cobra"
)

var chunkCMD = &cobra.Command{
	Use:   "chunk [file|-]",
	Short: "Split file into chunks",
	Long:  "Splits file or standard input into chunks and prints them as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		options, err := cfg.ChunkOptions()
		if err != nil {
			return err
		}
		c, err := ragchunk.NewChunker(cfg.Strategy(), options)
		if err != nil {
			return err
		}

		var input io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Join(errors.New("failed to open input file"), err)
			}
			defer f.Close()
			input = f
		}

		text, err := io.ReadAll(input)
		if err != nil {
			return errors.Join(errors.New("failed to read input"), err)
		}

		chunks, err := c.Chunk(string(text))
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(chunks)
	},
}

var presetsCMD = &cobra.Command{
	Use:   "presets",
	Short: "List chunking presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tOVERLAP\tDESCRIPTION")
		for _, preset := range chunker.Presets() {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", preset.Name, preset.ChunkSize, preset.ChunkOverlap, preset.Description)
		}
		return w.Flush()
	},
}

func init() {
	addChunkFlags(chunkCMD)
}
