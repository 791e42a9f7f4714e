// Package command implements the scalebuild CLI: checkout, packages,
// update, iso, clean, and validate subcommands over one builder root.
package command

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/M0Rf30/yap/v2/pkg/logger"
)

var (
	builderRoot string
	verbose     bool
	noColor     bool
)

var rootCmd = &cobra.Command{
	Use:   "scalebuild",
	Short: "Reproducible distribution build orchestration engine",
	Long: `scalebuild turns a manifest of apt repositories, source trees, and
package sets into a cached base chroot, a dependency-ordered set of
concurrently built .deb/.udeb packages, a bootable rootfs update image,
and an installation ISO.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		shouldDisableColor := noColor || os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb"
		logger.SetColorDisabled(shouldDisableColor)
	},
}

// Execute adds every subcommand to the root command and runs it.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&builderRoot, "root", ".", "builder root directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(packagesCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(isoCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(validateCmd)
}
