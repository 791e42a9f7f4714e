// Package repohash computes the composite cache key that gates base-chroot
// rebuilds: a hash over each configured apt repository's upstream Release
// file plus the locally rendered apt-preferences text.
package repohash

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/M0Rf30/yap/v2/internal/manifest"
	yapcrypto "github.com/M0Rf30/yap/v2/pkg/crypto"
	"github.com/M0Rf30/yap/v2/pkg/download"
	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
)

// fetchTimeout bounds the Release-file HTTP GET. The spec treats any
// non-200 response, and any transport error, as fatal with no retry.
const fetchTimeout = 60 * time.Second

// RepoHash computes the SHA-256 hex digest of the Release file served at
// {url}/dists/{distribution}/Release.
func RepoHash(ctx context.Context, url, distribution string) (string, error) {
	target := releaseURL(url, distribution)

	client := &http.Client{Timeout: fetchTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeNetwork, "building Release request").
			WithContext("url", target)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeNetwork, "fetching Release file").
			WithContext("url", target)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", yaperrors.New(yaperrors.ErrTypeNetwork, "non-200 fetching Release file").
			WithContext("url", target).
			WithContext("status", resp.StatusCode)
	}

	sum, err := yapcrypto.CalculateSHA256FromReader(resp.Body)
	if err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeNetwork, "reading Release file body").
			WithContext("url", target)
	}

	return hex.EncodeToString(sum), nil
}

// RenderAptPreferences renders the manifest's apt_preferences entries as
// the text that will be written to /etc/apt/preferences inside the base
// chroot. Entries are expected to already be in alphabetical Package
// order; Manifest.Validate enforces this at load time.
func RenderAptPreferences(preferences []manifest.AptPreference) string {
	var builder strings.Builder

	for i, pref := range preferences {
		if i > 0 {
			builder.WriteString("\n")
		}

		fmt.Fprintf(&builder, "Package: %s\nPin: %s\nPin-Priority: %d\n", pref.Package, pref.Pin, pref.PinPriority)
	}

	return builder.String()
}

// AllRepoHash concatenates repo_hash(primary), repo_hash(additional[i]) in
// manifest order, then the SHA-256 of the rendered apt_preferences text,
// yielding the single hex string used as the base-chroot cache key.
func AllRepoHash(ctx context.Context, manifestData *manifest.Manifest) (string, error) {
	var parts []string

	primaryHash, err := RepoHash(ctx, manifestData.AptRepos.Primary.URL, manifestData.AptRepos.Primary.Distribution)
	if err != nil {
		return "", err
	}

	parts = append(parts, primaryHash)

	for _, repo := range manifestData.AptRepos.Additional {
		additionalHash, err := RepoHash(ctx, repo.URL, repo.Distribution)
		if err != nil {
			return "", err
		}

		parts = append(parts, additionalHash)
	}

	preferencesText := RenderAptPreferences(manifestData.AptPreferences)

	preferencesHash, err := yapcrypto.CalculateSHA256FromReader(strings.NewReader(preferencesText))
	if err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeInternal, "hashing rendered apt preferences")
	}

	parts = append(parts, hex.EncodeToString(preferencesHash))

	return strings.Join(parts, ""), nil
}

// PreflightMirrors fetches each configured repo's Release file with the
// resumable downloader, surfacing an unreachable mirror before BaseChroot
// commits to a full debootstrap run. This is a separate, best-effort check
// from RepoHash's authoritative fetch: its result is discarded to a scratch
// file, and RepoHash always re-fetches for the real cache-key computation.
func PreflightMirrors(manifestData *manifest.Manifest) error {
	urls := make([]string, 0, 1+len(manifestData.AptRepos.Additional))
	urls = append(urls, releaseURL(manifestData.AptRepos.Primary.URL, manifestData.AptRepos.Primary.Distribution))

	for _, repo := range manifestData.AptRepos.Additional {
		urls = append(urls, releaseURL(repo.URL, repo.Distribution))
	}

	scratchDir, err := os.MkdirTemp("", "repohash-preflight-")
	if err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating preflight scratch dir")
	}
	defer os.RemoveAll(scratchDir)

	for i, url := range urls {
		destination := fmt.Sprintf("%s/release-%d", scratchDir, i)

		if err := download.WithResume(destination, url, 1, nil); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeNetwork, "apt mirror unreachable").
				WithContext("url", url)
		}
	}

	return nil
}

func releaseURL(url, distribution string) string {
	return strings.TrimSuffix(url, "/") + "/dists/" + distribution + "/Release"
}
