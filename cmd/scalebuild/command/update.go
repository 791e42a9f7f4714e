package command

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/M0Rf30/yap/v2/internal/layout"
	"github.com/M0Rf30/yap/v2/internal/rootfs"
	"github.com/M0Rf30/yap/v2/pkg/logger"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Assemble the bootable rootfs update image",
	RunE: func(cmd *cobra.Command, _ []string) error {
		l, manifestData, err := loadLayoutAndManifest()
		if err != nil {
			return err
		}

		logger.Info("update", "path", l.ReleaseDir())

		rootfsChroot := newBaseChroot(l, manifestData, layout.VariantRootfs)
		if err := rootfsChroot.Setup(cmd.Context()); err != nil {
			return err
		}

		assembler := &rootfs.Assembler{
			Layout:     l,
			BaseChroot: rootfsChroot,
			Options: rootfs.Options{
				Version:        os.Getenv("TRUENAS_VERSION"),
				KernelVersion:  os.Getenv("KERNEL_VERSION"),
				SigningKey:     os.Getenv("SIGNING_KEY"),
				SigningPass:    os.Getenv("SIGNING_PASSWORD"),
				BasePrune:      manifestData.BasePrune,
				BasePackages:   manifestData.BasePackages,
				AdditionalPkgs: manifestData.AdditionalPackages,
			},
		}

		updatePath, err := assembler.Assemble(cmd.Context())
		if err != nil {
			return err
		}

		logger.Info("Success!", "update_file", updatePath)

		return nil
	},
}
