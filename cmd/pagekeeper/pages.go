package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
	"github.com/agentworkforce/pagekeeper/internal/persistence"
	"github.com/agentworkforce/pagekeeper/internal/registry"
)

func NewPagesCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pages",
		Short: "List, create, rename and save pages",
	}
	cmd.AddCommand(newPagesListCommand(root))
	cmd.AddCommand(newPagesShowCommand(root))
	cmd.AddCommand(newPagesCreateCommand(root))
	cmd.AddCommand(newPagesRenameCommand(root))
	cmd.AddCommand(newPagesSaveCommand(root))
	return cmd
}

// withApp builds the engine, hydrates the registry from the cache and the
// remote store, and runs fn.
func withApp(ctx context.Context, root *RootOptions, fn func(*app) error) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	if _, err := a.controller.ListPages(ctx); err != nil {
		a.logger.Sugar().Warnw("page list incomplete", "error", err)
	}
	runErr := fn(a)
	if err := a.Close(); runErr == nil {
		runErr = err
	}
	return runErr
}

func newPagesListCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(a *app) error {
				pages := a.controller.Registry().Snapshot()
				if root.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), pages)
				}
				return writePageTable(cmd.OutOrStdout(), pages)
			})
		},
	}
}

func newPagesShowCommand(root *RootOptions) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "show <page>",
		Short: "Print a page document by id, name or filename",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(a *app) error {
				load, err := a.controller.LoadPage(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				doc := load.Document
				source := string(load.Source)
				if wait {
					if update, ok := <-load.Updates; ok {
						doc = update.Document
						source = string(persistence.SourceRemote)
					}
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s (%s, from %s)\n", load.Title, load.Page.ID, source)
				return writeJSON(cmd.OutOrStdout(), doc)
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the remote refresh before printing")
	return cmd
}

func newPagesCreateCommand(root *RootOptions) *cobra.Command {
	var base, template string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a page from a blank or named template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(a *app) error {
				var (
					page registry.Page
					err  error
				)
				if template != "" {
					kind, ok := pagedoc.ParseKind(template)
					if !ok {
						return fmt.Errorf("unknown template %q", template)
					}
					page, err = a.controller.CreateFromTemplate(cmd.Context(), kind)
				} else {
					page, err = a.controller.CreatePage(cmd.Context(), base)
				}
				if err != nil {
					return err
				}
				return writePage(cmd.OutOrStdout(), root.Format, page)
			})
		},
	}
	cmd.Flags().StringVar(&base, "base", "Page", "base name; a free number is appended")
	cmd.Flags().StringVar(&template, "template", "", "template kind (blank|landing|registration|schedule)")
	return cmd
}

func newPagesRenameCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <page> <new-name>",
		Short: "Rename a page and save it under its new name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(a *app) error {
				page, result, err := a.controller.RenamePage(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if root.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"page": page, "save": result})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "renamed %s to %q (%s)\n", page.ID, page.Name, describeSave(result))
				return nil
			})
		},
	}
}

func newPagesSaveCommand(root *RootOptions) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Save a page document read from a JSON file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			doc, err := pagedoc.Decode(raw)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), root, func(a *app) error {
				result, err := a.controller.SavePage(cmd.Context(), ref, doc)
				if err != nil {
					return err
				}
				if root.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s as %s (%s)\n", result.PageID, result.Filename, describeSave(result))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ref, "page", "", "page id, name or filename; defaults to the document title")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func describeSave(result persistence.SaveResult) string {
	switch {
	case result.RemoteSaved:
		return "saved to remote"
	case result.Downloaded:
		return "downloaded as file " + result.DownloadPath
	case result.Cached:
		return "cached locally"
	default:
		return "not persisted"
	}
}

func writePage(w io.Writer, format string, page registry.Page) error {
	if format == "json" {
		return writeJSON(w, page)
	}
	_, err := fmt.Fprintf(w, "%s\t%s\n", page.ID, page.Name)
	return err
}

func writePageTable(w io.Writer, pages []registry.Page) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTORAGE KEY\tMODIFIED")
	for _, page := range pages {
		modified := "-"
		if !page.LastModified.IsZero() {
			modified = page.LastModified.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", page.ID, page.Name, page.StorageKey, modified)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
