package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Sharom/phpunit/internal/config"
)

type initOptions struct {
	dryRun bool
	force  bool
}

// newInitCmd implements `phpunit-meta init`, which writes the default
// configuration to <path>/.phpunit-meta.yaml.
func newInitCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts initOptions
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default project configuration",
		Long: `Write the default phpunit-meta configuration to .phpunit-meta.yaml in
path (default: the current directory). An existing file is left untouched
unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(dir, opts, stdout, stderr)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the configuration without writing it")
	cmd.Flags().BoolVar(&opts.force, "force", false, "overwrite an existing configuration file")
	return cmd
}

func runInit(dir string, opts initOptions, stdout, stderr io.Writer) error {
	if opts.dryRun {
		content, err := generateConfig()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprint(stdout, content)
		return nil
	}

	path := filepath.Join(dir, config.ProjectConfigFile)
	if _, err := os.Stat(path); err == nil && !opts.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", path, err)
	}

	if err := config.DefaultConfig().SaveToFile(path); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stderr, "wrote default configuration to %s\n", path)
	return nil
}

// generateConfig returns the commented default configuration file.
func generateConfig() (string, error) {
	data, err := config.DefaultConfig().Marshal()
	if err != nil {
		return "", err
	}
	return string(data), nil
}
