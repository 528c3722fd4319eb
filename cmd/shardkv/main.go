package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pg-sharding/shardkv/pkg/config"
	"github.com/pg-sharding/shardkv/pkg/shardlog"
	"github.com/pg-sharding/shardkv/store"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use: "shardkv --config `path-to-config`",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  false,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadStoreCfg(cfgPath); err != nil {
			return err
		}
		return shardlog.UpdateZeroLogLevel(config.StoreConfig().LogLevel)
	},
}

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "open the store and report instances and storage footprint",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		s := store.NewShardStore(config.StoreConfig())
		if err := s.Init(ctx); err != nil {
			return err
		}
		defer func() {
			if err := s.Close(ctx, false); err != nil {
				shardlog.Zero.Error().Err(err).Msg("close failed")
			}
		}()

		bytes, err := s.GetStorageBytes(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("storage bytes: %d\n", bytes)
		for _, name := range s.GetAllInstances() {
			fmt.Printf("instance: %s\n", name)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "/etc/shardkv/config.yaml", "path to config file")
	rootCmd.AddCommand(statCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		shardlog.Zero.Error().Err(err).Msg("shardkv failed")
		os.Exit(1)
	}
}
