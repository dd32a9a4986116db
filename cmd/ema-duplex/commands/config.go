package commands

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration and check it",
		Long: `Print every setting after merging defaults, the config file, the
environment and the flags. Secrets are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := opts.load()
			printSettings(cmd, opts)
			if err != nil {
				return err
			}

			renderer := lipgloss.NewRenderer(cmd.OutOrStdout())
			ok := renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
			fmt.Fprintln(cmd.OutOrStdout(), ok.Render("configuration is valid"))
			return nil
		},
	}
}

func printSettings(cmd *cobra.Command, opts *rootOptions) {
	renderer := lipgloss.NewRenderer(cmd.OutOrStdout())
	keyStyle := renderer.NewStyle().Foreground(lipgloss.Color("#58a6ff"))

	keys := opts.viper.AllKeys()
	slices.Sort(keys)
	for _, key := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", keyStyle.Render(key), formatSetting(key, opts.viper.Get(key)))
	}
}

func formatSetting(key string, value any) string {
	s, isString := value.(string)
	if !isString {
		return fmt.Sprint(value)
	}
	if strings.HasSuffix(key, "api_key") {
		return maskSecret(s)
	}
	return fmt.Sprintf("%q", s)
}

func maskSecret(secret string) string {
	switch {
	case secret == "":
		return "(not set)"
	case len(secret) <= 8:
		return "****"
	default:
		return "****" + secret[len(secret)-4:]
	}
}
