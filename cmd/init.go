package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"treebranchleaf/tbl/internal/db"
)

var initWriteConfig bool

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Create an empty database (default ./" + dbFileName + ")",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := dbFileName
		switch {
		case len(args) == 1:
			path = args[0]
		case dbPath != "":
			path = dbPath
		}

		d, err := db.OpenDB(path)
		if err != nil {
			return err
		}
		defer d.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", path)

		if initWriteConfig {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config already exists: %s", configPath)
			}
			c := *cfg
			c.Database.Path = path
			if err := c.Save(configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
		}
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initWriteConfig, "write-config", false, "Also write a default config pointing at the database")
	rootCmd.AddCommand(initCmd)
}
