package main

import (
	"errors"

	"github.com/opengs/ragchunk/internal/logger"
	"github.com/spf13/cobra"
)

var installCMD = &cobra.Command{
	Use:   "install",
	Short: "Create database schema",
	Long:  "Creates database schema and runs storage migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.FromFlags(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		eEmbedder, err := cfg.NewEmbedder()
		if err != nil {
			return err
		}

		eStorage, err := openStorage(cmd.Context(), cfg, eEmbedder.Dimensions())
		if err != nil {
			return errors.Join(errors.New("failed to open storage"), err)
		}
		defer eStorage.Close()

		if err := eStorage.CreateSchema(cmd.Context()); err != nil {
			return err
		}
		if err := eStorage.Install(cmd.Context()); err != nil {
			return err
		}

		log.Info("storage installed", "schema", cfg.Database.Schema, "prefix", cfg.Database.Prefix, "dimensions", eEmbedder.Dimensions())
		return nil
	},
}

var uninstallCMD = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove storage tables",
	Long:  "Reverts storage migrations. All collections, documents and chunks are lost",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.FromFlags(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		eEmbedder, err := cfg.NewEmbedder()
		if err != nil {
			return err
		}

		eStorage, err := openStorage(cmd.Context(), cfg, eEmbedder.Dimensions())
		if err != nil {
			return errors.Join(errors.New("failed to open storage"), err)
		}
		defer eStorage.Close()

		if err := eStorage.UnInstall(cmd.Context()); err != nil {
			return err
		}

		log.Info("storage uninstalled", "schema", cfg.Database.Schema, "prefix", cfg.Database.Prefix)
		return nil
	},
}
