package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jwebster45206/episode-engine/internal/storage"
	"github.com/jwebster45206/episode-engine/pkg/episode"
	"github.com/spf13/cobra"
)

var validFilename = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var strictNames bool

	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate episode definition files",
		Long: `Decodes every .json, .yaml and .yml file under the given files or directories
and checks each episode the way the runtime does when loading its catalog.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, strictNames)
		},
	}
	cmd.Flags().BoolVar(&strictNames, "strict-names", false, "require lowercase snake_case file names")
	return cmd
}

func run(cmd *cobra.Command, paths []string, strictNames bool) error {
	out := cmd.OutOrStdout()
	var defs []episode.Definition
	failed := 0

	files, err := collectFiles(paths)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}

	for _, file := range files {
		fmt.Fprintf(out, "Validating %s...\n", file)
		if strictNames {
			name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
			if !validFilename.MatchString(name) {
				fmt.Fprintf(out, "  ✗ file name %q must be lowercase snake_case\n", filepath.Base(file))
				failed++
			}
		}

		data, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(out, "  ✗ %v\n", err)
			failed++
			continue
		}
		decoded, err := storage.DecodeDefinitions(file, data)
		if err != nil {
			fmt.Fprintf(out, "  ✗ %v\n", err)
			failed++
			continue
		}
		defs = append(defs, decoded...)
	}

	// The catalog also checks duplicate IDs across files
	catalog, rejected := episode.NewCatalog(defs)
	for _, rerr := range rejected {
		fmt.Fprintf(out, "  ✗ %v\n", rerr)
	}
	failed += len(rejected)

	fmt.Fprintf(out, "\n%d episode(s) valid, %d problem(s)\n", catalog.Len(), failed)
	if failed > 0 {
		return fmt.Errorf("validation failed with %d problem(s)", failed)
	}
	return nil
}

// collectFiles expands directories into their definition files.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".json", ".yaml", ".yml":
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
