package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mbakker/convel-go/internal/assets"
)

var downloadForce bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List and download linking models",
	Long: `Manage the ONNX model bundles the linking pipeline runs on.

Subcommands:
  list      List available models (default)
  download  Download and install a model

Examples:
  convel models
  convel models download bert-conv-td`,
	RunE: runModelsList,
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available models",
	RunE:  runModelsList,
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download <name>",
	Short: "Download and install a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsDownload,
}

func init() {
	modelsDownloadCmd.Flags().BoolVarP(&downloadForce, "force", "f", false, "reinstall even if already present")

	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsDownloadCmd)
}

func runModelsList(cmd *cobra.Command, args []string) error {
	manifest, err := assets.LoadEmbeddedManifest()
	if err != nil {
		return err
	}

	fmt.Printf("%-16s %-10s %-10s %-10s %s\n", "NAME", "VERSION", "SIZE", "INSTALLED", "DESCRIPTION")
	for _, m := range manifest.Models {
		installed := "-"
		if assets.IsInstalled(cfg.ModelsDir, m) {
			installed = "yes"
		}
		name := m.Name
		if m.Recommended {
			name += " *"
		}
		fmt.Printf("%-16s %-10s %-10s %-10s %s\n",
			name, m.Version, formatBytes(m.SizeBytes), installed, m.Description)
	}
	fmt.Printf("\nModels install to %s\n", cfg.ModelsDir)
	return nil
}

func runModelsDownload(cmd *cobra.Command, args []string) error {
	manifest, err := assets.LoadEmbeddedManifest()
	if err != nil {
		return err
	}

	spec, ok := manifest.Find(args[0])
	if !ok {
		return fmt.Errorf("unknown model %q; see 'convel models list'", args[0])
	}

	if assets.IsInstalled(cfg.ModelsDir, spec) && !downloadForce {
		fmt.Printf("%s %s is already installed (use --force to reinstall)\n", spec.Name, spec.Version)
		return nil
	}

	ctx := context.Background()
	d := assets.NewDownloader()

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		// No TTY: plain install without the progress UI
		if err := d.DownloadAndInstall(ctx, spec, cfg.ModelsDir, nil); err != nil {
			return err
		}
		fmt.Printf("Installed %s %s to %s\n", spec.Name, spec.Version, assets.InstallPath(cfg.ModelsDir, spec.Name))
		return nil
	}

	return RunDownloadProgress(ctx, d, spec, cfg.ModelsDir)
}
