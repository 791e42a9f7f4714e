package command

import (
	"github.com/spf13/cobra"

	"github.com/M0Rf30/yap/v2/internal/basechroot"
	"github.com/M0Rf30/yap/v2/internal/layout"
	"github.com/M0Rf30/yap/v2/pkg/logger"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove log, source, and tmp trees",
	RunE: func(_ *cobra.Command, _ []string) error {
		l := layout.New(builderRoot)

		logger.Info("clean", "root", l.Root)

		for _, variant := range []layout.Variant{layout.VariantPackage, layout.VariantRootfs, layout.VariantCDROM} {
			chroot := basechroot.BaseChroot{Layout: l, Variant: variant}
			if err := chroot.CleanMounts(); err != nil {
				logger.Debug("clean_mounts reported an error", "variant", variant, "error", err)
			}
		}

		if err := cleanTrees(l); err != nil {
			return err
		}

		logger.Info("Success!")

		return nil
	},
}
