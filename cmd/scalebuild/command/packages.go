package command

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/spf13/cobra"

	"github.com/M0Rf30/yap/v2/internal/buildstep"
	"github.com/M0Rf30/yap/v2/internal/layout"
	"github.com/M0Rf30/yap/v2/internal/manifest"
	"github.com/M0Rf30/yap/v2/internal/scheduler"
	"github.com/M0Rf30/yap/v2/pkg/logger"
)

var packagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "Build every source needing a rebuild through the scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		l, manifestData, err := loadLayoutAndManifest()
		if err != nil {
			return err
		}

		logger.Info("packages", "path", l.PackageLogsDir())

		packageChroot := newBaseChroot(l, manifestData, layout.VariantPackage)

		ctx := cmd.Context()

		depGraph, err := buildGraph(ctx, l, manifestData, packageChroot)
		if err != nil {
			return err
		}

		pkgDebug, _ := manifest.GetEnvVariable("PKG_DEBUG", manifest.ConstraintBoolean, false).(bool)
		ccache, _ := manifest.GetEnvVariable("CCACHE", manifest.ConstraintBoolean, false).(bool)

		var aptLock sync.Mutex

		builder := &buildstep.Builder{
			Layout:     l,
			BaseChroot: packageChroot,
			AptLock:    &aptLock,
			Options: buildstep.Options{
				PKGDebug: pkgDebug,
				CCache:   ccache,
				Version:  os.Getenv("TRUENAS_VERSION"),
				Train:    os.Getenv("TRUENAS_TRAIN"),
				Vendor:   os.Getenv("TRUENAS_VENDOR"),
				ExtraEnv: secretEnv(),
			},
		}

		sched := &scheduler.Scheduler{
			Graph:   depGraph,
			Layout:  l,
			Builder: builder,
			Workers: parallelBuilds(),
		}

		failure, err := sched.Run(ctx)
		if err != nil {
			return err
		}

		if failure != nil {
			return fmt.Errorf("source %q failed to build: %w", failure.Source, failure.Err)
		}

		logger.Info("Success!")

		return nil
	},
}

// parallelBuilds reads PARALLEL_BUILDS, defaulting to max(ncpu, 8)/4.
func parallelBuilds() int {
	defaultWorkers := runtime.NumCPU()
	if defaultWorkers < 8 {
		defaultWorkers = 8
	}

	defaultWorkers /= 4
	if defaultWorkers < 1 {
		defaultWorkers = 1
	}

	workers, _ := manifest.GetEnvVariable("PARALLEL_BUILDS", manifest.ConstraintInteger, defaultWorkers).(int)
	if workers <= 0 {
		return defaultWorkers
	}

	return workers
}
