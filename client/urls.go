package client

import (
	"strings"

	packageurl "github.com/package-url/packageurl-go"

	"github.com/git-pkgs/outdated/internal/core"
)

// URLBuilder constructs the public URLs of a package on its source.
type URLBuilder interface {
	Registry(name, version string) string
	Documentation(name, version string) string
	PURL(name, version string) string
}

// URLsFor returns the URL builder for protocol.
func URLsFor(protocol core.Protocol) URLBuilder {
	switch protocol {
	case core.ProtocolJSR:
		return jsrURLs{}
	case core.ProtocolGitHub:
		return githubURLs{}
	default:
		return npmURLs{}
	}
}

// PURL returns the Package URL of dep at version.
func PURL(dep core.DependencySpec, version string) string {
	name := dep.PackageName()
	if dep.Protocol == core.ProtocolGitHub {
		name = strings.TrimSuffix(name, ".git")
	}
	return URLsFor(dep.Protocol).PURL(name, version)
}

// BuildURLs returns a map of all non-empty URLs for a package.
// Keys are "registry", "docs", and "purl".
func BuildURLs(urls URLBuilder, name, version string) map[string]string {
	result := make(map[string]string)
	if v := urls.Registry(name, version); v != "" {
		result["registry"] = v
	}
	if v := urls.Documentation(name, version); v != "" {
		result["docs"] = v
	}
	if v := urls.PURL(name, version); v != "" {
		result["purl"] = v
	}
	return result
}

// splitNamespace splits "@scope/name" and "owner/repo" at the first slash.
func splitNamespace(name string) (string, string) {
	if ns, rest, ok := strings.Cut(name, "/"); ok {
		return ns, rest
	}
	return "", name
}

func purl(typ, name, version string) string {
	namespace, pkgName := splitNamespace(name)
	return packageurl.NewPackageURL(typ, namespace, pkgName, version, nil, "").ToString()
}

type npmURLs struct{}

func (npmURLs) Registry(name, version string) string {
	if version != "" {
		return "https://www.npmjs.com/package/" + name + "/v/" + version
	}
	return "https://www.npmjs.com/package/" + name
}

func (u npmURLs) Documentation(name, version string) string {
	return u.Registry(name, version)
}

func (npmURLs) PURL(name, version string) string {
	return purl(packageurl.TypeNPM, name, version)
}

type jsrURLs struct{}

func (jsrURLs) Registry(name, version string) string {
	if version != "" {
		return "https://jsr.io/" + name + "@" + version
	}
	return "https://jsr.io/" + name
}

func (jsrURLs) Documentation(name, version string) string {
	if version != "" {
		return "https://jsr.io/" + name + "@" + version + "/doc"
	}
	return "https://jsr.io/" + name + "/doc"
}

func (jsrURLs) PURL(name, version string) string {
	return purl("jsr", name, version)
}

type githubURLs struct{}

func (githubURLs) Registry(name, version string) string {
	if version != "" {
		return "https://github.com/" + name + "/releases/tag/" + githubTag(version)
	}
	return "https://github.com/" + name
}

func (githubURLs) Documentation(name, version string) string {
	if version != "" {
		return "https://github.com/" + name + "/tree/" + githubTag(version)
	}
	return "https://github.com/" + name
}

func (githubURLs) PURL(name, version string) string {
	return purl(packageurl.TypeGithub, name, githubTag(version))
}

// githubTag restores the "v" prefix stripped from tag names.
func githubTag(version string) string {
	if version == "" || strings.HasPrefix(version, "v") {
		return version
	}
	return "v" + version
}
