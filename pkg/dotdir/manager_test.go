package dotdir_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/dotdir"
)

func TestDotdir(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Dotdir Suite")
}

var _ = Describe("Manager", func() {
	var manager *dotdir.Manager

	BeforeEach(func() {
		manager = dotdir.NewManager()
	})

	It("uses and creates the override directory when given", func() {
		override := filepath.Join(GinkgoT().TempDir(), "custom-engram")

		target, err := manager.Target(override)
		Expect(err).NotTo(HaveOccurred())
		Expect(target).To(Equal(override))

		info, err := os.Stat(target)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("returns an absolute path for relative overrides", func() {
		tmp := GinkgoT().TempDir()
		cwd, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(tmp)).To(Succeed())
		DeferCleanup(func() { Expect(os.Chdir(cwd)).To(Succeed()) })

		target, err := manager.Target("relative-engram")
		Expect(err).NotTo(HaveOccurred())
		Expect(filepath.IsAbs(target)).To(BeTrue())
	})

	It("prefers a local .engram directory over the home directory", func() {
		tmp := GinkgoT().TempDir()
		Expect(os.Mkdir(filepath.Join(tmp, ".engram"), 0o755)).To(Succeed())

		cwd, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(tmp)).To(Succeed())
		DeferCleanup(func() { Expect(os.Chdir(cwd)).To(Succeed()) })

		target, err := manager.Target("")
		Expect(err).NotTo(HaveOccurred())
		Expect(target).To(HaveSuffix(string(filepath.Separator) + ".engram"))

		wd, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(target).To(Equal(filepath.Join(wd, ".engram")))
	})

	It("falls back to the home directory when no local dir exists", func() {
		tmp := GinkgoT().TempDir()
		home := GinkgoT().TempDir()
		GinkgoT().Setenv("HOME", home)

		cwd, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(tmp)).To(Succeed())
		DeferCleanup(func() { Expect(os.Chdir(cwd)).To(Succeed()) })

		target, err := manager.Target("")
		Expect(err).NotTo(HaveOccurred())
		Expect(target).To(Equal(filepath.Join(home, ".engram")))

		info, err := os.Stat(target)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})
})
