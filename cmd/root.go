package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "omnistore",
	Short: "content platform engine",
	Example: `omnistore serve
omnistore db migrate
omnistore kinds
omnistore get -k Note -i <id> -s '{"handle":true,"versions":{"name":true}}' --as <user-id>
omnistore search -k Note --text draft --visibility Own --as <user-id>
omnistore mutate -k Note -f batch.json --as <user-id>
omnistore react -k Note -i <id> -e 👍 --as <user-id>
omnistore jobs reconcile`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(kindsCmd())
	rootCmd.AddCommand(jobsCmd)
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}
