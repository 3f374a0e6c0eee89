package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/driverag/internal/config"
	"github.com/Aman-CERP/driverag/internal/ui"
)

func newInitCmd(root *rootOptions) *cobra.Command {
	var folderID string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Init writes config.yaml with documented defaults into the data
directory. Edit it to point at your Drive folder and OAuth
credentials, then run 'driverag sync'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, root, folderID)
		},
	}

	cmd.Flags().StringVar(&folderID, "folder", "", "Drive folder ID to ingest")

	return cmd
}

func runInit(cmd *cobra.Command, root *rootOptions, folderID string) error {
	cfg := config.Default()
	if root.dataDir != "" {
		cfg.DataDir = root.dataDir
		cfg.Cache.Dir = filepath.Join(root.dataDir, "cache")
		cfg.Drive.CredentialsFile = filepath.Join(root.dataDir, "credentials.json")
		cfg.Drive.TokenFile = filepath.Join(root.dataDir, "token.json")
	}
	cfg.Drive.FolderID = folderID

	path := filepath.Join(cfg.DataDir, config.ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists; edit it instead", path)
	}

	if err := cfg.Save(); err != nil {
		return err
	}

	console := ui.NewConsole(cmd.OutOrStdout())
	console.Successf("wrote %s", path)
	if folderID == "" {
		console.Println("Set drive.folder_id before the first sync.")
	}
	console.Printf("Place OAuth client credentials at %s.", cfg.Drive.CredentialsFile)
	return nil
}
