package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache maintenance",
}

var cacheMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the cache schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Println("cache schema up to date")
		return nil
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired cache entries",
	Long:  "Expired entries are already invisible to reads; sweep reclaims their storage.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		removed, err := store.DeleteExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d expired entr(ies)\n", removed)
		return nil
	},
}

var cacheFlushUncertainCmd = &cobra.Command{
	Use:   "flush-uncertain",
	Short: "Delete all uncertain cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		removed, err := store.PurgeUncertain(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d uncertain entr(ies)\n", removed)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheMigrateCmd, cacheSweepCmd, cacheFlushUncertainCmd)
	rootCmd.AddCommand(cacheCmd)
}
