package config_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/config"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Configer config", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("LoadConfig", func() {
		It("returns default config when no config file exists", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.API.Listen).To(Equal(":8080"))
			Expect(cfg.VectorStore.Provider).To(Equal("sqlite"))
			Expect(cfg.Quality.ConflictSimilarity).To(Equal(0.85))
		})

		It("round-trips through SaveConfig", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())

			cfg.VectorStore.Provider = "qdrant"
			cfg.VectorStore.Host = "qdrant.internal"
			cfg.VectorStore.Port = 6334
			Expect(c.SaveConfig(cfg)).To(Succeed())

			reloaded, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(reloaded.VectorStore.Provider).To(Equal("qdrant"))
			Expect(reloaded.VectorStore.Host).To(Equal("qdrant.internal"))
			Expect(reloaded.VectorStore.Port).To(Equal(6334))

			_, err = os.Stat(filepath.Join(tmpDir, "config.toml"))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("config keys", func() {
		It("gets and sets dotted keys", func() {
			cfg := config.NewDefaultConfig()

			Expect(config.SetKey(cfg, "embedding.model", "all-minilm")).To(Succeed())
			got, err := config.GetKey(cfg, "embedding.model")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal("all-minilm"))

			Expect(config.SetKey(cfg, "api.log_json", "true")).To(Succeed())
			got, err = config.GetKey(cfg, "api.log_json")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal("true"))
			Expect(config.SetKey(cfg, "api.log_json", "sometimes")).To(HaveOccurred())
		})

		It("rejects unknown keys and bad values", func() {
			cfg := config.NewDefaultConfig()

			Expect(config.SetKey(cfg, "nope.nope", "x")).To(HaveOccurred())
			_, err := config.GetKey(cfg, "nope.nope")
			Expect(err).To(HaveOccurred())

			Expect(config.SetKey(cfg, "vector_store.port", "not-a-port")).To(HaveOccurred())
		})

		It("lists keys sorted", func() {
			keys := config.ValidConfigKeys()
			Expect(keys).To(ContainElement("api.listen"))
			Expect(keys).To(ContainElement("quality.conflict_similarity"))
			Expect(sortedCopy(keys)).To(Equal(keys))
		})
	})

	Describe("InitViper", func() {
		It("applies defaults and env overrides", func() {
			os.Setenv("ENGRAM_API_LISTEN", ":9999")
			defer os.Unsetenv("ENGRAM_API_LISTEN")

			v, err := config.InitViper(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(v.GetString("api.listen")).To(Equal(":9999"))
			Expect(v.GetString("embedding.model")).To(Equal("nomic-embed-text"))
			Expect(v.GetFloat64("retrieval.alpha")).To(Equal(0.55))
		})
	})
})

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
