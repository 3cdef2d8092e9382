package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/emrgen/omnistore/internal/config"
	"github.com/emrgen/omnistore/internal/engine"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/projector"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/emrgen/omnistore/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// viewerID is the user the object commands act as; empty is anonymous.
var viewerID string

func init() {
	rootCmd.PersistentFlags().StringVar(&viewerID, "as", "", "user id to act as")

	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(mutateCmd())
	rootCmd.AddCommand(capabilitiesCmd())
	rootCmd.AddCommand(reactCmd())
	rootCmd.AddCommand(bookmarkCmd())
	rootCmd.AddCommand(viewCmd())
}

func getCmd() *cobra.Command {
	var kindName string
	var lookup engine.Lookup
	var selection string

	var required = []string{"kind"}

	command := &cobra.Command{
		Use:     "get",
		Short:   "read one object",
		Example: `omnistore get -k Note -i <id> -s '{"handle":true,"versions":{"name":true}}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkMissingFlags(cmd, required) {
				return nil
			}
			sel, err := parseSelection(selection)
			if err != nil {
				return err
			}

			return withViewer(func(ctx context.Context, app *server.App, viewer perm.Viewer) error {
				obj, err := app.Engine.ReadOne(ctx, kind.Kind(kindName), lookup, sel, viewer)
				if err != nil {
					return err
				}
				return printJSON(obj)
			})
		},
	}

	command.Flags().StringVarP(&kindName, "kind", "k", "", "object kind (required)")
	command.Flags().StringVarP(&lookup.ID, "id", "i", "", "object id")
	command.Flags().StringVar(&lookup.Handle, "handle", "", "object handle")
	command.Flags().StringVar(&lookup.RootID, "root-id", "", "root id, reads its latest version")
	command.Flags().StringVar(&lookup.RootHandle, "root-handle", "", "root handle, reads its latest version")
	command.Flags().StringVarP(&selection, "select", "s", "", "json selection")

	command.Flags().SortFlags = false

	return command
}

func searchCmd() *cobra.Command {
	var kindName string
	var filters string
	var selection string
	var in engine.SearchInput

	var required = []string{"kind"}

	command := &cobra.Command{
		Use:     "search",
		Short:   "search objects of a kind",
		Example: `omnistore search -k Note --filters '{"tag":"<tag-id>"}' --sort new --take 10 --as <user-id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkMissingFlags(cmd, required) {
				return nil
			}
			sel, err := parseSelection(selection)
			if err != nil {
				return err
			}
			if filters != "" {
				if err := json.Unmarshal([]byte(filters), &in.Filters); err != nil {
					return fmt.Errorf("invalid --filters: %w", err)
				}
			}

			return withViewer(func(ctx context.Context, app *server.App, viewer perm.Viewer) error {
				page, err := app.Engine.Search(ctx, kind.Kind(kindName), in, sel, viewer)
				if err != nil {
					return err
				}
				return printJSON(page)
			})
		},
	}

	command.Flags().StringVarP(&kindName, "kind", "k", "", "object kind (required)")
	command.Flags().StringVar(&filters, "filters", "", "json object of named filters")
	command.Flags().StringVar(&in.Text, "text", "", "free text")
	command.Flags().StringVar(&in.Sort, "sort", "", "sort name")
	command.Flags().StringVar(&in.After, "after", "", "end cursor of the previous page")
	command.Flags().IntVar(&in.Take, "take", 0, "page size")
	command.Flags().StringVar(&in.Visibility, "visibility", "", "Public, Own, OwnPrivate, OwnPublic or All")
	command.Flags().StringVarP(&selection, "select", "s", "", "json selection")

	command.Flags().SortFlags = false

	return command
}

type batchFile struct {
	Creates []registry.Payload `json:"creates"`
	Updates []registry.Payload `json:"updates"`
	Deletes []string           `json:"deletes"`
}

func mutateCmd() *cobra.Command {
	var kindName string
	var file string
	var selection string

	var required = []string{"kind", "file"}

	command := &cobra.Command{
		Use:     "mutate",
		Short:   "apply a batch of creates, updates and deletes",
		Example: `omnistore mutate -k Tag -f batch.json --as <user-id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkMissingFlags(cmd, required) {
				return nil
			}
			sel, err := parseSelection(selection)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var batch batchFile
			if err := json.Unmarshal(data, &batch); err != nil {
				return fmt.Errorf("invalid batch file: %w", err)
			}

			return withViewer(func(ctx context.Context, app *server.App, viewer perm.Viewer) error {
				res, err := app.Engine.Mutate(ctx, kind.Kind(kindName), registry.Batch(batch), sel, viewer)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"created": res.Created,
					"updated": res.Updated,
					"deleted": res.Deleted,
				})
			})
		},
	}

	command.Flags().StringVarP(&kindName, "kind", "k", "", "object kind (required)")
	command.Flags().StringVarP(&file, "file", "f", "", "json batch file (required)")
	command.Flags().StringVarP(&selection, "select", "s", "", "json selection of the returned objects")

	command.Flags().SortFlags = false

	return command
}

func capabilitiesCmd() *cobra.Command {
	var kindName string
	var ids []string

	var required = []string{"kind", "id"}

	command := &cobra.Command{
		Use:   "capabilities",
		Short: "show what the viewer may do with objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkMissingFlags(cmd, required) {
				return nil
			}

			return withViewer(func(ctx context.Context, app *server.App, viewer perm.Viewer) error {
				sets, err := app.Engine.ResolveCapabilities(ctx, kind.Kind(kindName), ids, viewer)
				if err != nil {
					return err
				}
				out := make(map[string]map[string]bool, len(ids))
				for i, id := range ids {
					out[id] = sets[i].Map()
				}
				return printJSON(out)
			})
		},
	}

	command.Flags().StringVarP(&kindName, "kind", "k", "", "object kind (required)")
	command.Flags().StringSliceVarP(&ids, "id", "i", nil, "object ids (required)")

	return command
}

func reactCmd() *cobra.Command {
	var kindName string
	var id string
	var emoji string

	var required = []string{"kind", "id"}

	command := &cobra.Command{
		Use:   "react",
		Short: "set or clear the viewer's reaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkMissingFlags(cmd, required) {
				return nil
			}

			return withViewer(func(ctx context.Context, app *server.App, viewer perm.Viewer) error {
				res, err := app.Engine.React(ctx, kind.Kind(kindName), id, emoji, viewer)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}

	command.Flags().StringVarP(&kindName, "kind", "k", "", "object kind (required)")
	command.Flags().StringVarP(&id, "id", "i", "", "object id (required)")
	command.Flags().StringVarP(&emoji, "emoji", "e", "", "emoji, empty clears the reaction")

	return command
}

func bookmarkCmd() *cobra.Command {
	var kindName string
	var id string
	var list string
	var remove bool

	var required = []string{"kind", "id"}

	command := &cobra.Command{
		Use:   "bookmark",
		Short: "bookmark or unbookmark an object",
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkMissingFlags(cmd, required) {
				return nil
			}

			return withViewer(func(ctx context.Context, app *server.App, viewer perm.Viewer) error {
				if remove {
					removed, err := app.Engine.Unbookmark(ctx, kind.Kind(kindName), id, viewer)
					if err != nil {
						return err
					}
					return printJSON(map[string]bool{"removed": removed})
				}
				created, err := app.Engine.Bookmark(ctx, kind.Kind(kindName), id, list, viewer)
				if err != nil {
					return err
				}
				return printJSON(map[string]bool{"created": created})
			})
		},
	}

	command.Flags().StringVarP(&kindName, "kind", "k", "", "object kind (required)")
	command.Flags().StringVarP(&id, "id", "i", "", "object id (required)")
	command.Flags().StringVarP(&list, "list", "l", "", "bookmark list label")
	command.Flags().BoolVar(&remove, "remove", false, "remove the bookmark instead")

	return command
}

func viewCmd() *cobra.Command {
	var kindName string
	var id string

	var required = []string{"kind", "id"}

	command := &cobra.Command{
		Use:   "view",
		Short: "record that the viewer saw an object",
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkMissingFlags(cmd, required) {
				return nil
			}

			return withViewer(func(ctx context.Context, app *server.App, viewer perm.Viewer) error {
				counted, err := app.Engine.View(ctx, kind.Kind(kindName), id, viewer)
				if err != nil {
					return err
				}
				return printJSON(map[string]bool{"counted": counted})
			})
		},
	}

	command.Flags().StringVarP(&kindName, "kind", "k", "", "object kind (required)")
	command.Flags().StringVarP(&id, "id", "i", "", "object id (required)")

	return command
}

// withApp wires the engine against the configured database for one command.
func withApp(f func(ctx context.Context, app *server.App) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, err := server.Wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	return f(ctx, app)
}

func withViewer(f func(ctx context.Context, app *server.App, viewer perm.Viewer) error) error {
	return withApp(func(ctx context.Context, app *server.App) error {
		viewer, err := app.Engine.ViewerFor(ctx, viewerID)
		if err != nil {
			return err
		}
		return f(ctx, app, viewer)
	})
}

func parseSelection(raw string) (projector.Selection, error) {
	if raw == "" {
		return projector.Selection{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("invalid --select: %w", err)
	}
	return projector.ParseSelection(decoded)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func checkMissingFlags(cmd *cobra.Command, flags []string) bool {
	var missingFlags []string
	for _, required := range flags {
		if !cmd.Flag(required).Changed {
			missingFlags = append(missingFlags, "--"+required)
		}
	}

	if len(missingFlags) > 0 {
		logrus.Errorf("missing: %s", strings.Join(missingFlags, " "))
		_ = cmd.Usage()
		return true
	}

	return false
}
