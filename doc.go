// Package yap implements a reproducible distribution build orchestration
// engine: given a manifest describing apt repositories and source
// packages, it materializes a cached Debian base chroot, resolves a
// dependency graph over the source packages, builds them concurrently
// under isolated overlayfs sandboxes backed by a shared local apt
// repository, and composes the results into a layered rootfs update image
// and an installation ISO.
//
// # Components
//
// The engine is organized as a pipeline of single-purpose packages under
// internal/, in dependency order:
//
//   - internal/executil: subprocess launching with per-task log sinks
//   - internal/layout: process-wide path derivation
//   - internal/manifest: YAML configuration loading and validation
//   - internal/repohash: apt Release-file + preferences cache key
//   - internal/basechroot: debootstrap-based base chroot caching
//   - internal/overlay: per-source overlayfs build sandbox
//   - internal/debcontrol: debian/control parsing and normalization
//   - internal/graph: source dependency graph and rebuild propagation
//   - internal/buildstep: the per-source package build procedure
//   - internal/scheduler: the concurrent build worker pool
//   - internal/rootfs: rootfs assembly into a squashfs update image
//   - internal/iso: installation ISO assembly
//
// The command-line entry point lives in cmd/scalebuild.
package yap
