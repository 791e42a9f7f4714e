// Package scheduler runs the dependency graph's ready sources through a
// worker pool: an APT lock serializes every mutation of the shared
// packages directory, a queue lock protects the to_build/in_progress/
// built/failed sets, and the first worker failure halts further
// dispatch.
package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/M0Rf30/yap/v2/internal/buildstep"
	"github.com/M0Rf30/yap/v2/internal/executil"
	"github.com/M0Rf30/yap/v2/internal/graph"
	"github.com/M0Rf30/yap/v2/internal/layout"
	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
	"github.com/M0Rf30/yap/v2/pkg/logger"
	"github.com/M0Rf30/yap/v2/pkg/set"
)

// dequeueTimeout bounds how long a worker waits for a ready task before
// recomputing readiness and retrying.
const dequeueTimeout = 5 * time.Second

// Scheduler drives graph.Graph's ready-set iteration across a worker pool.
type Scheduler struct {
	Graph   *graph.Graph
	Layout  *layout.Layout
	Builder *buildstep.Builder
	Workers int

	queueMu sync.Mutex

	toBuild    []*graph.Node
	built      *set.Set
	inProgress *set.Set
	failed     *set.Set

	ready chan *graph.Node
}

// FailedSource pairs a failed source name with the error that failed it.
type FailedSource struct {
	Source string
	Err    error
}

// Run builds every source in toBuild using up to Workers concurrent
// workers, and returns the first failure encountered, if any.
func (s *Scheduler) Run(ctx context.Context) (*FailedSource, error) {
	s.toBuild = s.Graph.ToBuild()
	s.built = set.NewSet()
	s.inProgress = set.NewSet()
	s.failed = set.NewSet()

	if len(s.toBuild) == 0 {
		return nil, nil
	}

	parallel := s.Workers
	if parallel <= 0 || parallel > len(s.toBuild) {
		parallel = len(s.toBuild)
	}

	s.ready = make(chan *graph.Node, len(s.toBuild))
	s.dispatchReady()

	var (
		waitGroup  sync.WaitGroup
		failureMu  sync.Mutex
		failure    *FailedSource
		runtimeErr error
	)

	for workerID := range parallel {
		waitGroup.Add(1)

		go func(id int) {
			defer waitGroup.Done()

			for {
				if s.shouldExit() {
					return
				}

				node, ok := s.dequeue(ctx)
				if !ok {
					continue
				}

				if node == nil {
					return
				}

				sourceName := node.Source.Name

				logger.Info("building source", "source", sourceName, "worker", id)

				err := s.Builder.Build(ctx, node.Source)
				if err != nil {
					s.queueMu.Lock()
					s.inProgress.Remove(sourceName)
					s.failed.Add(sourceName)
					s.queueMu.Unlock()

					failureMu.Lock()
					if failure == nil {
						failure = &FailedSource{Source: sourceName, Err: err}
					}
					failureMu.Unlock()

					return
				}

				if regenErr := s.regeneratePackagesIndex(ctx); regenErr != nil {
					failureMu.Lock()
					if runtimeErr == nil {
						runtimeErr = regenErr
					}
					failureMu.Unlock()
				}

				s.queueMu.Lock()
				s.inProgress.Remove(sourceName)
				s.built.Add(sourceName)
				s.queueMu.Unlock()

				s.dispatchReady()
			}
		}(workerID)
	}

	waitGroup.Wait()
	close(s.ready)

	return failure, runtimeErr
}

// shouldExit reports whether the scheduler has no more work to dispatch:
// a failure occurred, or to_build and the queue are both drained.
func (s *Scheduler) shouldExit() bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if setLen(s.failed) > 0 {
		return true
	}

	return setLen(s.built)+setLen(s.failed) >= len(s.toBuild) && len(s.ready) == 0
}

// setLen counts a *set.Set's members by draining its channel iterator.
func setLen(members *set.Set) int {
	count := 0
	for range members.Iter() {
		count++
	}

	return count
}

// dequeue blocks up to dequeueTimeout for a ready task. A false ok return
// with a nil node means "retry, nothing timed out fatally"; a false ok
// with exit conditions met signals the caller to recheck shouldExit.
func (s *Scheduler) dequeue(ctx context.Context) (*graph.Node, bool) {
	select {
	case node, open := <-s.ready:
		if !open {
			return nil, true
		}

		s.queueMu.Lock()
		s.inProgress.Add(node.Source.Name)
		s.queueMu.Unlock()

		return node, true
	case <-time.After(dequeueTimeout):
		s.dispatchReady()

		return nil, false
	case <-ctx.Done():
		return nil, true
	}
}

// dispatchReady recomputes the ready set and enqueues any source not
// already queued, in progress, or built. A source is recorded in
// inProgress as soon as it is queued.
func (s *Scheduler) dispatchReady() {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	ready := s.Graph.ReadySet(s.toBuild, s.built, s.inProgress)

	for _, node := range ready {
		select {
		case s.ready <- node:
			s.inProgress.Add(node.Source.Name)
		default:
		}
	}
}

// regeneratePackagesIndex runs dpkg-scanpackages under the APT lock,
// refreshing tmp/pkgdir/Packages.gz after a successful build.
func (s *Scheduler) regeneratePackagesIndex(ctx context.Context) error {
	if s.Builder.AptLock != nil {
		s.Builder.AptLock.Lock()
		defer s.Builder.AptLock.Unlock()
	}

	sink := executil.Sink("apt-index")

	err := executil.Checked(ctx, s.Layout.PkgDir(), os.Environ(), sink,
		"sh", "-c", "dpkg-scanpackages . /dev/null | gzip -9c > Packages.gz")
	if err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeCommandFailed, "regenerating Packages.gz")
	}

	return nil
}
