package command

import (
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/M0Rf30/yap/v2/internal/layout"
	"github.com/M0Rf30/yap/v2/internal/manifest"
	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
	"github.com/M0Rf30/yap/v2/pkg/logger"
)

var (
	validateManifest   bool
	validateState      bool
	noValidateManifest bool
	noValidateState    bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the manifest and on-disk build state",
	RunE: func(_ *cobra.Command, _ []string) error {
		if noValidateManifest {
			validateManifest = false
		}

		if noValidateState {
			validateState = false
		}

		l := layout.New(builderRoot)

		logger.Info("validate", "root", l.Root)

		var manifestData *manifest.Manifest

		if validateManifest {
			loaded, err := manifest.Load(l.Root + "/" + manifestPath)
			if err != nil {
				return err
			}

			manifestData = loaded

			logger.Info("manifest is valid", "sources", len(manifestData.FlatSources()))
		}

		if validateState {
			if manifestData == nil {
				loaded, err := manifest.Load(l.Root + "/" + manifestPath)
				if err != nil {
					return err
				}

				manifestData = loaded
			}

			if err := validateSystemState(l, manifestData); err != nil {
				return err
			}
		}

		logger.Info("Success!")

		return nil
	},
}

// validateSystemState checks the build_epoch sidecar parses and that any
// existing pkghashes entries point at known source names.
func validateSystemState(l *layout.Layout, manifestData *manifest.Manifest) error {
	if data, err := os.ReadFile(l.BuildEpochFile()); err == nil {
		if _, convErr := strconv.Atoi(strings.TrimSpace(string(data))); convErr != nil {
			return yaperrors.New(yaperrors.ErrTypeInvalidManifest, "tmp/.buildEpoch is not a decimal integer")
		}
	}

	known := make(map[string]struct{}, len(manifestData.FlatSources()))
	for _, source := range manifestData.FlatSources() {
		known[source.ResolvedSourceName()] = struct{}{}
	}

	entries, err := os.ReadDir(l.PkgHashesDir())
	if err != nil {
		return nil
	}

	for _, entry := range entries {
		name := strings.TrimSuffix(strings.TrimSuffix(entry.Name(), ".hash"), ".pkglist")
		if _, ok := known[name]; !ok {
			logger.Warn("pkghashes entry has no matching manifest source", "name", name)
		}
	}

	return nil
}

func init() {
	validateCmd.Flags().BoolVar(&validateManifest, "validate-manifest", true, "validate the manifest file")
	validateCmd.Flags().BoolVar(&validateState, "validate-system_state", true, "validate on-disk build state")
	validateCmd.Flags().BoolVar(&noValidateManifest, "no-validate-manifest", false, "skip manifest validation")
	validateCmd.Flags().BoolVar(&noValidateState, "no-validate-system_state", false, "skip system-state validation")
}
