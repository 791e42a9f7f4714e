package command

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/M0Rf30/yap/v2/internal/iso"
	"github.com/M0Rf30/yap/v2/internal/layout"
	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
	"github.com/M0Rf30/yap/v2/pkg/logger"
)

var isoCmd = &cobra.Command{
	Use:   "iso",
	Short: "Assemble the installation ISO from an existing update file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		l, manifestData, err := loadLayoutAndManifest()
		if err != nil {
			return err
		}

		version := os.Getenv("TRUENAS_VERSION")

		updatePath := l.UpdateFile(version)
		if _, statErr := os.Stat(updatePath); statErr != nil {
			return yaperrors.Wrap(statErr, yaperrors.ErrTypeMissingManifest, "update file not found; run 'update' first").
				WithContext("path", updatePath)
		}

		logger.Info("iso", "path", l.ReleaseDir())

		cdromChroot := newBaseChroot(l, manifestData, layout.VariantCDROM)
		if err := cdromChroot.Setup(cmd.Context()); err != nil {
			return err
		}

		assembler := &iso.Assembler{
			Layout:     l,
			BaseChroot: cdromChroot,
			Options: iso.Options{
				Version:      version,
				UpdatePath:   updatePath,
				IsoPackages:  manifestData.IsoPackages,
				GrubPackages: []string{"grub-efi-amd64", "grub-pc-bin"},
			},
		}

		isoPath, err := assembler.Assemble(cmd.Context())
		if err != nil {
			return err
		}

		logger.Info("Success!", "iso_file", isoPath)

		return nil
	},
}
