package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/emrgen/omnistore/internal/catalog"
	"github.com/emrgen/omnistore/internal/config"
	"github.com/spf13/cobra"
)

func kindsCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "kinds",
		Short: "list the registered kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			settings, err := config.LoadSettings(cfg)
			if err != nil {
				return err
			}
			reg, err := catalog.New(settings.Catalog)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tTABLE\tMUTABLE\tCAP\tRELATIONS")
			for _, k := range reg.Kinds() {
				d, err := reg.Resolve(k)
				if err != nil {
					return err
				}

				relations := make([]string, 0, len(d.Relations))
				for _, rel := range d.Relations {
					relations = append(relations, rel.Name)
				}
				limit := "-"
				if n := settings.Catalog.MaxObjects[k]; n > 0 {
					limit = fmt.Sprint(n)
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", k, d.Table, d.Mutate != nil, limit, strings.Join(relations, ","))
			}
			return w.Flush()
		},
	}

	return command
}
