// Package manifest loads and validates the builder's configuration record:
// apt repositories, apt-pinning preferences, package sets, and the source
// package tree, including their per-package build recipes and
// environment-gated constraints.
package manifest

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/M0Rf30/yap/v2/internal/executil"
	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
)

// AptRepo describes one apt source entry.
type AptRepo struct {
	URL          string `yaml:"url"          validate:"required,url"`
	Distribution string `yaml:"distribution" validate:"required"`
	Components   string `yaml:"components"`
	Component    string `yaml:"component"`
	Key          string `yaml:"key"`
}

// AptRepos is the manifest's apt_repos block.
type AptRepos struct {
	Primary    AptRepo   `yaml:"primary"`
	Additional []AptRepo `yaml:"additional"`
}

// AptPreference is one pinning stanza, rendered into /etc/apt/preferences.
type AptPreference struct {
	Package     string `yaml:"Package"      validate:"required"`
	Pin         string `yaml:"Pin"          validate:"required"`
	PinPriority int    `yaml:"Pin-Priority" validate:"required"`
}

// PackageRef names a package and whether its Recommends should be pulled in.
type PackageRef struct {
	Name              string `yaml:"name" validate:"required"`
	InstallRecommends bool   `yaml:"install_recommends"`
}

// EnvCheck is a single "key equals value" guard on a GuardedCommand.
type EnvCheck struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// GuardedCommand is either a plain shell command, or a command paired with
// env_checks that must all match the process environment before it runs.
// It unmarshals from either a bare YAML string or a mapping of
// {command, env_checks}.
type GuardedCommand struct {
	Command   string
	EnvChecks []EnvCheck
}

// UnmarshalYAML implements the plain-string-or-mapping union described in
// the source package's build recipe fields.
func (g *GuardedCommand) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		g.Command = node.Value
		g.EnvChecks = nil

		return nil
	}

	var guarded struct {
		Command   string     `yaml:"command"`
		EnvChecks []EnvCheck `yaml:"env_checks"`
	}

	if err := node.Decode(&guarded); err != nil {
		return err
	}

	g.Command = guarded.Command
	g.EnvChecks = guarded.EnvChecks

	return nil
}

// Runnable reports whether every env_checks entry matches the current
// process environment. A command with no guards is always runnable.
func (g GuardedCommand) Runnable(lookup func(string) (string, bool)) bool {
	for _, check := range g.EnvChecks {
		value, ok := lookup(check.Key)
		if !ok || value != check.Value {
			return false
		}
	}

	return true
}

// ConstraintType is the coercion applied to a build_constraints value.
type ConstraintType string

// Supported constraint types.
const (
	ConstraintBoolean ConstraintType = "boolean"
	ConstraintInteger ConstraintType = "integer"
	ConstraintString  ConstraintType = "string"
)

// BuildConstraint gates a package's build on one environment variable,
// coerced to Type, equaling Value.
type BuildConstraint struct {
	Name  string         `yaml:"name"  validate:"required"`
	Type  ConstraintType `yaml:"type"  validate:"required,oneof=boolean integer string"`
	Value any            `yaml:"value"`
}

// SourcePackage is one buildable unit: either a top-level source or a
// subpackage that inherits Branch/Repo/SourceName from its parent.
type SourcePackage struct {
	Name       string `yaml:"name"        validate:"required"`
	SourceName string `yaml:"source_name"`
	Branch     string `yaml:"branch"`
	Repo       string `yaml:"repo"`

	PreDepsCmd  []GuardedCommand `yaml:"predepscmd"`
	DepsCmd     []GuardedCommand `yaml:"depscmd"`
	PreBuildCmd []GuardedCommand `yaml:"prebuildcmd"`
	BuildCmd    []GuardedCommand `yaml:"buildcmd"`

	Subdir   string `yaml:"subdir"`
	DepsPath string `yaml:"deps_path"`

	GenerateVersion bool     `yaml:"generate_version"`
	DebOptions      string   `yaml:"deoptions"`
	Jobs            int      `yaml:"jobs"`
	ExplicitDeps    []string `yaml:"explicit_deps"`
	SupportsCCache  bool     `yaml:"supports_ccache"`
	BatchPriority   int      `yaml:"batch_priority"`
	Tmpfs           bool     `yaml:"tmpfs"`
	TmpfsSizeGiB    int      `yaml:"tmpfs_size"`

	BuildConstraints []BuildConstraint `yaml:"build_constraints"`
	Env              map[string]string `yaml:"env"`

	Subpackages []SourcePackage `yaml:"subpackages"`

	// TruenasInstall marks the package that installs truenas_install into
	// the update image, vs. one that only copies it out of the builder
	// tree. At most one source across the whole manifest may set this.
	TruenasInstall bool `yaml:"truenas_install"`
}

// implicitBuildDeps is merged into every source's ExplicitDeps.
var implicitBuildDeps = []string{"python3"}

// ResolvedSourceName returns SourceName, defaulting to Name.
func (s *SourcePackage) ResolvedSourceName() string {
	if s.SourceName != "" {
		return s.SourceName
	}

	return s.Name
}

// AllExplicitDeps returns ExplicitDeps plus the implicit mandatory set.
func (s *SourcePackage) AllExplicitDeps() []string {
	deps := make([]string, 0, len(s.ExplicitDeps)+len(implicitBuildDeps))
	deps = append(deps, implicitBuildDeps...)
	deps = append(deps, s.ExplicitDeps...)

	return deps
}

// flatten applies the top-level source's Branch/Repo/SourceName to each
// subpackage that doesn't override them, and returns the top-level source
// followed by its subpackages (subpackages themselves emptied of the
// Subpackages field to avoid double traversal).
func flatten(source SourcePackage) []SourcePackage {
	resolvedName := source.ResolvedSourceName()

	out := make([]SourcePackage, 0, 1+len(source.Subpackages))

	top := source
	top.SourceName = resolvedName
	top.Subpackages = nil
	out = append(out, top)

	for _, sub := range source.Subpackages {
		if sub.Branch == "" {
			sub.Branch = source.Branch
		}

		if sub.Repo == "" {
			sub.Repo = source.Repo
		}

		if sub.SourceName == "" {
			sub.SourceName = resolvedName
		}

		sub.Subpackages = nil
		out = append(out, sub)
	}

	return out
}

// Manifest is the immutable, validated configuration record loaded once per
// process.
type Manifest struct {
	DebianRelease      string            `yaml:"debian_release" validate:"required"`
	AptRepos           AptRepos          `yaml:"apt_repos"`
	AptPreferences     []AptPreference   `yaml:"apt_preferences"`
	BasePackages       []PackageRef      `yaml:"base_packages"`
	AdditionalPackages []PackageRef      `yaml:"additional_packages"`
	BasePrune          []string          `yaml:"base_prune"`
	IsoPackages        []string          `yaml:"iso_packages"`
	BuildEpoch         int               `yaml:"build_epoch"`
	Sources            []SourcePackage   `yaml:"sources"`

	// flatSources is Sources with subpackages flattened and inheritance
	// applied, computed once at Load time.
	flatSources []SourcePackage
}

// FlatSources returns every buildable SourcePackage (top-level sources and
// their subpackages) with inheritance resolved.
func (m *Manifest) FlatSources() []SourcePackage {
	return m.flatSources
}

// Load reads path, parses it as YAML, and validates it against the schema.
// Returns ErrTypeMissingManifest if path does not exist, ErrTypeInvalidManifest
// for any schema or semantic violation.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, yaperrors.New(yaperrors.ErrTypeMissingManifest, "manifest not found").
				WithContext("path", path)
		}

		return nil, yaperrors.Wrap(err, yaperrors.ErrTypeMissingManifest, "reading manifest").
			WithContext("path", path)
	}

	var manifest Manifest

	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, yaperrors.Wrap(err, yaperrors.ErrTypeInvalidManifest, "parsing manifest YAML").
			WithContext("path", path)
	}

	flat := make([]SourcePackage, 0, len(manifest.Sources))
	for _, source := range manifest.Sources {
		flat = append(flat, flatten(source)...)
	}

	manifest.flatSources = flat

	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	return &manifest, nil
}

// validate runs the struct-tag-driven checks (required fields, URL shape,
// oneof constraints) declared across Manifest and its nested types.
var validate = validator.New()

// Validate enforces both the struct-tag rules validator can express
// (required fields, URL shape, oneof constraints) and the semantic rules
// it cannot: alphabetical apt_preferences ordering, unique source
// identities, and the truenas_install exclusivity rule.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeInvalidManifest, "manifest failed field validation")
	}

	if err := m.validatePreferencesOrder(); err != nil {
		return err
	}

	if err := m.validateUniqueSourceNames(); err != nil {
		return err
	}

	if err := m.validateTruenasInstall(); err != nil {
		return err
	}

	return m.validateShellFragments()
}

// validateShellFragments parses every predepscmd/depscmd/prebuildcmd/buildcmd
// entry as a POSIX shell script, catching a malformed fragment at load time
// instead of failing deep inside a chroot during a build.
func (m *Manifest) validateShellFragments() error {
	for _, source := range m.flatSources {
		groups := [][]GuardedCommand{source.PreDepsCmd, source.DepsCmd, source.PreBuildCmd, source.BuildCmd}

		for _, group := range groups {
			for _, guarded := range group {
				if err := executil.ValidateShellFragment(guarded.Command); err != nil {
					return yaperrors.Wrap(err, yaperrors.ErrTypeInvalidManifest, "invalid shell fragment").
						WithContext("source", source.Name).
						WithContext("command", guarded.Command)
				}
			}
		}
	}

	return nil
}

func (m *Manifest) validatePreferencesOrder() error {
	names := make([]string, len(m.AptPreferences))
	for i, pref := range m.AptPreferences {
		names[i] = strings.TrimPrefix(pref.Package, "*")
	}

	if !sort.StringsAreSorted(names) {
		return yaperrors.New(yaperrors.ErrTypeInvalidManifest,
			"apt_preferences must be listed alphabetically by Package")
	}

	return nil
}

func (m *Manifest) validateUniqueSourceNames() error {
	if len(m.flatSources) == 0 {
		return yaperrors.New(yaperrors.ErrTypeInvalidManifest, "sources must contain at least one entry")
	}

	seen := make(map[string]bool, len(m.flatSources))

	for _, source := range m.flatSources {
		if seen[source.Name] {
			return yaperrors.New(yaperrors.ErrTypeInvalidManifest, "duplicate source identity").
				WithContext("name", source.Name)
		}

		seen[source.Name] = true
	}

	return nil
}

// validateTruenasInstall rejects a manifest where more than one source sets
// truenas_install: the source's install-placement semantics are ambiguous
// if both an image-embedding and a tree-copy source claim them.
func (m *Manifest) validateTruenasInstall() error {
	count := 0

	for _, source := range m.flatSources {
		if source.TruenasInstall {
			count++
		}
	}

	if count > 1 {
		return yaperrors.New(yaperrors.ErrTypeInvalidManifest,
			fmt.Sprintf("truenas_install is set on %d sources, expected at most 1", count))
	}

	return nil
}
