package command

import (
	"github.com/spf13/cobra"

	"github.com/M0Rf30/yap/v2/internal/checkout"
	"github.com/M0Rf30/yap/v2/internal/layout"
	"github.com/M0Rf30/yap/v2/internal/manifest"
	"github.com/M0Rf30/yap/v2/pkg/logger"
)

var sshPassword string

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Check out every manifest source via git",
	RunE: func(_ *cobra.Command, _ []string) error {
		l := layout.New(builderRoot)

		if err := l.EnsureDirs(); err != nil {
			return err
		}

		manifestData, err := manifest.Load(l.Root + "/" + manifestPath)
		if err != nil {
			return err
		}

		logger.Info("checkout", "path", l.GitLogsDir())

		if err := checkout.All(manifestData, l, sshPassword); err != nil {
			return err
		}

		logger.Info("Success!")

		return nil
	},
}

func init() {
	checkoutCmd.Flags().StringVar(&sshPassword, "ssh-password", "", "password for SSH key-based authentication")
}
