package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/gateway"
	"github.com/rhuss/vibe/pkg/workspace"
)

var (
	promptDir    string
	promptDryRun bool
)

var promptCmd = &cobra.Command{
	Use:   "prompt <text>",
	Short: "Apply a prompt to a local project directory",
	Long: `Send the files of a project directory and a prompt to the configured
model, merge the answer into the files and write them back. Nothing is
written when the model's answer cannot be used.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPrompt,
}

func init() {
	promptCmd.Flags().StringVarP(&promptDir, "dir", "d", ".", "Project directory")
	promptCmd.Flags().BoolVar(&promptDryRun, "dry-run", false, "Print the generated files instead of writing them")
	rootCmd.AddCommand(promptCmd)
}

func runPrompt(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	files, err := loadExisting(promptDir)
	if err != nil {
		return err
	}

	gen, err := newProvider(ctx, cfg.Provider)
	if err != nil {
		return err
	}
	defer gen.Close()

	gw, err := gateway.New(gen, nil, gateway.Config{
		Model:       cfg.Provider.Model,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
	})
	if err != nil {
		return err
	}

	cycle, err := gw.Generate(ctx, files, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if promptDryRun {
		return printJSON(out, cycle)
	}
	if err := workspace.Write(promptDir, cycle.Files); err != nil {
		return err
	}
	fmt.Fprintln(out, cycle.Message)
	for _, name := range cycle.Generated.Names() {
		fmt.Fprintf(out, "  wrote %s\n", name)
	}
	return nil
}
