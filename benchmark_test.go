package outdated_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/git-pkgs/outdated"
	"github.com/git-pkgs/outdated/cache"
	"github.com/git-pkgs/outdated/resolve"
)

// lodash-sized document with many versions
func largePackument(name string) []byte {
	versions := map[string]any{}
	for major := 1; major <= 4; major++ {
		for minor := 0; minor < 20; minor++ {
			for patch := 0; patch < 5; patch++ {
				v := fmt.Sprintf("%d.%d.%d", major, minor, patch)
				versions[v] = map[string]any{
					"version": v,
					"engines": map[string]string{"node": ">=14"},
				}
			}
		}
	}
	body, _ := json.Marshal(map[string]any{
		"name":      name,
		"dist-tags": map[string]string{"latest": "4.19.4"},
		"versions":  versions,
	})
	return body
}

func benchManifest(n int) *outdated.PackageManifest {
	m := &outdated.PackageManifest{Name: "bench"}
	for i := 0; i < n; i++ {
		m.Dependencies = append(m.Dependencies, outdated.DependencySpec{
			Name:           fmt.Sprintf("pkg-%d", i),
			CurrentVersion: "^1.0.0",
			Update:         true,
		})
	}
	return m
}

func benchServer(b *testing.B) *httptest.Server {
	payload := largePackument("bench")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}))
	b.Cleanup(server.Close)
	return server
}

func BenchmarkResolvePackage_Network(b *testing.B) {
	server := benchServer(b)
	npmrc := &outdated.Npmrc{}
	npmrc.Registry.URL = server.URL

	r := resolve.New(resolve.WithNpmrc(npmrc))
	defer r.Close()

	manifest := benchManifest(25)
	opts := resolve.Options{Options: outdated.DefaultOptions()}
	opts.CacheTTL = 0
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.ResolvePackage(ctx, manifest, opts)
	}
}

func BenchmarkResolvePackage_Cached(b *testing.B) {
	server := benchServer(b)
	npmrc := &outdated.Npmrc{}
	npmrc.Registry.URL = server.URL

	c := cache.NewMemory()
	r := resolve.New(resolve.WithNpmrc(npmrc), resolve.WithCache(c))
	defer r.Close()

	manifest := benchManifest(25)
	opts := resolve.Options{Options: outdated.DefaultOptions()}
	ctx := context.Background()
	_, _ = r.ResolvePackage(ctx, manifest, opts)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.ResolvePackage(ctx, manifest, opts)
	}
}

func BenchmarkPURL(b *testing.B) {
	dep := outdated.DependencySpec{Name: "@babel/core"}
	for i := 0; i < b.N; i++ {
		_ = outdated.PURL(dep, "7.24.0")
	}
}

func BenchmarkSupportedProtocols(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = outdated.SupportedProtocols()
	}
}
