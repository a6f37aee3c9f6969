package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/ocbridge/internal/domain/resolution"
	"github.com/ehr/ocbridge/internal/odm"
)

type resolveOptions struct {
	importData bool
	extraClean bool
}

func resolveCmd() *cobra.Command {
	var (
		opts    resolveOptions
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "resolve [file]",
		Short: "Resolve an ODM document and write the result",
		Long: "Reads an ODM document from file (or stdin when omitted or \"-\"), reconciles it\n" +
			"against OpenClinica and writes the rewritten document to --out (default stdout).",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, client, err := loadRemote()
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			svc := resolution.NewService(client, resolution.WithLogger(logger))
			if outPath != "" && outPath != "-" {
				return resolveToFile(cmd.Context(), svc, in, outPath, opts, logger)
			}
			return runResolve(cmd.Context(), svc, in, cmd.OutOrStdout(), opts, logger)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&opts.importData, "import", false, "submit the resolved document to the data import service")
	cmd.Flags().BoolVar(&opts.extraClean, "extraclean", false, "strip annotations and placeholders in lightweight mode too")
	return cmd
}

// resolveToFile resolves into a temporary file next to path and renames it
// over path only on success, so path may also be the input and a failed
// run leaves it untouched.
func resolveToFile(ctx context.Context, svc *resolution.Service, in io.Reader, path string, opts resolveOptions, logger zerolog.Logger) error {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := runResolve(ctx, svc, in, tmp, opts, logger); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func runResolve(ctx context.Context, svc *resolution.Service, in io.Reader, out io.Writer, opts resolveOptions, logger zerolog.Logger) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	doc, err := odm.Parse(data)
	if err != nil {
		return err
	}

	res, err := svc.ResolveWithMeta(ctx, doc, resolution.RunMeta{Source: "cli"})
	if err != nil {
		return err
	}
	if opts.extraClean {
		res.Cleaned += odm.Clean(doc)
	}
	if opts.importData {
		if err := svc.Import(ctx, doc); err != nil {
			return err
		}
	}

	resolved, err := doc.Bytes()
	if err != nil {
		return err
	}
	if _, err := out.Write(resolved); err != nil {
		return fmt.Errorf("write document: %w", err)
	}

	logger.Info().
		Str("mode", string(res.Mode)).
		Int("subjects", len(res.Subjects)).
		Int("created", len(res.Created)).
		Int("scheduled", len(res.Scheduled)).
		Bool("imported", opts.importData).
		Msg("document resolved")
	return nil
}
