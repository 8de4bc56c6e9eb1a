package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/rhuss/vibe/pkg/ingest"
	"github.com/rhuss/vibe/pkg/merge"
	"github.com/rhuss/vibe/pkg/preview"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/startplan"
	"github.com/rhuss/vibe/pkg/workspace"
)

var (
	ingestApply string
	renderOut   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Parse a raw model response",
	Long: `Parse a raw model response (from a file or stdin) into its message and
files and print the result as JSON. With --apply the files are merged into
a project directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

var planCmd = &cobra.Command{
	Use:   "plan [dir]",
	Short: "Show how a project directory would be started",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPlan,
}

var renderCmd = &cobra.Command{
	Use:   "render [dir]",
	Short: "Build the self-contained preview document of a project directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRender,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestApply, "apply", "", "Merge the parsed files into this directory")
	renderCmd.Flags().StringVarP(&renderOut, "output", "o", "", "Write the document to this file instead of stdout")
	rootCmd.AddCommand(ingestCmd, planCmd, renderCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	result, err := ingest.Ingest(string(raw))
	if err != nil {
		return err
	}

	if ingestApply != "" {
		existing, err := loadExisting(ingestApply)
		if err != nil {
			return err
		}
		merged := merge.Merge(existing, result.Files)
		if err := workspace.Write(ingestApply, merged); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "applied %d file(s) to %s\n", len(result.Files), ingestApply)
	}

	return printJSON(cmd.OutOrStdout(), result)
}

func runPlan(cmd *cobra.Command, args []string) error {
	files, err := workspace.Load(dirArg(args))
	if err != nil {
		return err
	}
	plan, err := startplan.Resolve(files)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "strategy: %s\n", plan.Strategy)
	fmt.Fprintf(out, "kind:     %s\n", plan.Kind)
	fmt.Fprintf(out, "command:  %s\n", plan)
	if plan.EntryFile != "" {
		fmt.Fprintf(out, "entry:    %s\n", plan.EntryFile)
	}
	return nil
}

func runRender(cmd *cobra.Command, args []string) error {
	files, err := workspace.Load(dirArg(args))
	if err != nil {
		return err
	}
	doc, err := preview.Render(files)
	if err != nil {
		return err
	}
	if renderOut == "" {
		_, err := io.WriteString(cmd.OutOrStdout(), doc.HTML)
		return err
	}
	if err := os.WriteFile(renderOut, []byte(doc.HTML), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "rendered %s (entry %q, %d inlined)\n", renderOut, doc.Entry, len(doc.Inlined))
	return nil
}

func dirArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return "."
}

// loadExisting is workspace.Load that treats a missing or empty directory
// as an empty project.
func loadExisting(dir string) (project.FileSet, error) {
	files, err := workspace.Load(dir)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, workspace.ErrEmpty) {
		return project.FileSet{}, nil
	}
	return files, err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
