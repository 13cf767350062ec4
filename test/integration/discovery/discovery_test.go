// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

//go:build integration

package discovery_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/samber/oops"

	plugins "github.com/plugscan/plugscan/internal/plugin"
	"github.com/plugscan/plugscan/internal/plugin/listener"
	"github.com/plugscan/plugscan/internal/plugin/scanner"
	"github.com/plugscan/plugscan/pkg/plugin"
)

const pkgPath = "github.com/plugscan/plugscan/test/integration/discovery_test"

func newManager(dir string) *plugins.Manager {
	m := plugins.NewManager(listener.Config{
		SearchDirs:  []string{dir},
		Debounce:    50 * time.Millisecond,
		BatchWindow: 50 * time.Millisecond,
	},
		plugins.WithLogger(slog.New(slog.NewTextHandler(GinkgoWriter, nil))),
		plugins.WithScannerOptions(scanner.WithStartTimeout(30*time.Second)),
	)
	DeferCleanup(func() { _ = m.Close() })
	return m
}

func typeNames(defs []plugin.TypeDefinition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Identity.FullName
	}
	return names
}

var _ = Describe("Plugin discovery", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	Describe("one-shot scan", func() {
		It("describes real plugin processes and isolates a corrupt file", func() {
			installPlugin(dir, "alpha.plugin")
			corrupt := installCorrupt(dir, "corrupt.plugin")
			installPlugin(dir, "beta.plugin")

			m := newManager(dir)
			Expect(m.ScanOnce(context.Background())).To(Succeed())

			repo := m.Repository()
			Expect(repo.KnownPluginOrigins()).To(HaveLen(2))
			Expect(typeNames(repo.Types())).To(ConsistOf(
				pkgPath+".Alpha", pkgPath+".Beta", pkgPath+".Greeter",
			))
			Expect(repo.Parts()).To(HaveLen(2))

			id, err := repo.IdentityByName("Greeter")
			Expect(err).NotTo(HaveOccurred())
			Expect(id.FullName).To(Equal(pkgPath + ".Greeter"))

			failures := m.Failures()
			Expect(failures).To(HaveLen(1))
			Expect(failures[0].Path).To(Equal(corrupt))
			oopsErr, ok := oops.AsOops(failures[0].Cause)
			Expect(ok).To(BeTrue())
			Expect(oopsErr.Code()).To(Equal("SCAN_FAILED"))
		})

		It("reports imports declared by struct tags", func() {
			installPlugin(dir, "beta.plugin")

			m := newManager(dir)
			Expect(m.ScanOnce(context.Background())).To(Succeed())

			parts := m.Repository().Parts()
			Expect(parts).To(HaveLen(1))
			Expect(parts[0].Imports).To(ConsistOf(plugin.Import{
				Contract:    "greeter",
				Member:      "Fallback",
				Cardinality: plugin.CardinalityOptional,
			}))
		})
	})

	Describe("watching", func() {
		It("follows plugins being added and removed", func() {
			alpha := installPlugin(dir, "alpha.plugin")

			m := newManager(dir)
			Expect(m.Start(context.Background())).To(Succeed())
			Eventually(m.Ready).WithTimeout(30 * time.Second).Should(BeTrue())

			repo := m.Repository()
			Expect(repo.ContainsDefinitionForName("Alpha")).To(BeTrue())
			before, ok := repo.TypeDefinition(mustIdentity(repo.IdentityByName("Alpha")))
			Expect(ok).To(BeTrue())

			installPlugin(dir, "beta.plugin")
			Eventually(func() []string { return typeNames(repo.Types()) }).
				WithTimeout(30 * time.Second).
				Should(ContainElement(pkgPath + ".Beta"))

			Expect(os.Remove(alpha)).To(Succeed())
			Eventually(func() []plugin.Origin { return repo.KnownPluginOrigins() }).
				WithTimeout(30 * time.Second).
				Should(HaveLen(1))
			Expect(typeNames(repo.Types())).NotTo(ContainElement(pkgPath + ".Alpha"))
			Expect(typeNames(repo.Types())).To(ContainElement(pkgPath+".Greeter"), "beta still exports Greeter")

			// Re-adding the unchanged file yields the same definition.
			installPlugin(dir, "alpha.plugin")
			Eventually(func() []plugin.Origin { return repo.KnownPluginOrigins() }).
				WithTimeout(30 * time.Second).
				Should(HaveLen(2))
			after, ok := repo.TypeDefinition(before.Identity)
			Expect(ok).To(BeTrue())
			Expect(after).To(Equal(before))
		})

		It("forgets every plugin below a removed directory", func() {
			sub := filepath.Join(dir, "nested")
			Expect(os.MkdirAll(sub, 0o750)).To(Succeed())
			installPlugin(sub, "alpha.plugin")

			m := newManager(dir)
			Expect(m.Start(context.Background())).To(Succeed())
			Eventually(m.Ready).WithTimeout(30 * time.Second).Should(BeTrue())
			Expect(m.Repository().KnownPluginOrigins()).To(HaveLen(1))

			Expect(os.RemoveAll(sub)).To(Succeed())
			Eventually(func() []plugin.Origin { return m.Repository().KnownPluginOrigins() }).
				WithTimeout(30 * time.Second).
				Should(BeEmpty())
			Expect(m.Repository().Types()).To(BeEmpty())
		})
	})
})

func mustIdentity(id plugin.TypeIdentity, err error) plugin.TypeIdentity {
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return id
}
