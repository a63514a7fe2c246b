package conflict_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/conflict"
)

func TestConflict(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Conflict Suite")
}

var _ = Describe("Detector", func() {
	var d *conflict.Detector

	BeforeEach(func() {
		d = conflict.NewDetector()
	})

	Describe("negation markers", func() {
		It("flags a negation present on one side only", func() {
			result := d.Check(
				"The cache is not shared between tenants",
				"The cache is shared between tenants",
				nil, nil,
			)
			Expect(result.Conflicting).To(BeTrue())
			Expect(result.Reason).To(ContainSubstring("negation"))
		})

		It("handles Russian negation tokens", func() {
			result := d.Check(
				"сервис никогда не использует кэш",
				"сервис использует кэш",
				nil, nil,
			)
			Expect(result.Conflicting).To(BeTrue())
		})

		It("ignores matching negations on both sides", func() {
			result := d.Check(
				"Builds are not reproducible on CI",
				"Builds are not reproducible locally either",
				nil, nil,
			)
			Expect(result.Conflicting).To(BeFalse())
		})
	})

	Describe("key/value assertions", func() {
		It("flags differing values for the same key", func() {
			result := d.Check(
				"primary_db: postgresql",
				"primary_db: mongodb",
				nil, nil,
			)
			Expect(result.Conflicting).To(BeTrue())
			Expect(result.Reason).To(ContainSubstring("primary_db"))
		})

		It("accepts matching values after normalization", func() {
			result := d.Check(
				"primary_db:  PostgreSQL",
				"primary_db: postgresql",
				nil, nil,
			)
			Expect(result.Conflicting).To(BeFalse())
		})
	})

	Describe("value substitution in prose", func() {
		It("flags near-duplicates that differ in one informative token", func() {
			result := d.Check(
				"The service uses PostgreSQL",
				"The service uses MongoDB",
				nil, nil,
			)
			Expect(result.Conflicting).To(BeTrue())
			Expect(result.Reason).To(ContainSubstring("differs only in"))
		})

		It("ignores texts that merely overlap", func() {
			result := d.Check(
				"The billing service talks to PostgreSQL over pgbouncer",
				"The auth team prefers short-lived tokens for the gateway",
				nil, nil,
			)
			Expect(result.Conflicting).To(BeFalse())
		})

		It("ignores identical assertions", func() {
			result := d.Check(
				"The service uses PostgreSQL",
				"The service uses PostgreSQL",
				nil, nil,
			)
			Expect(result.Conflicting).To(BeFalse())
		})
	})

	Describe("exclusive tag pairs", func() {
		BeforeEach(func() {
			d = conflict.NewDetector(conflict.WithExclusiveTagPairs([][2]string{
				{"approved", "rejected"},
			}))
		})

		It("flags opposite halves of a configured pair", func() {
			result := d.Check(
				"Design doc for the export pipeline",
				"Design document covering the export pipeline work",
				[]string{"approved"},
				[]string{"rejected"},
			)
			Expect(result.Conflicting).To(BeTrue())
			Expect(result.Reason).To(ContainSubstring("mutually exclusive"))
		})
	})

	Describe("pluggable tokenizer", func() {
		type shouting struct{ conflict.SimpleTokenizer }

		It("accepts a custom tokenizer", func() {
			custom := conflict.NewDetector(conflict.WithTokenizer(shouting{}))
			result := custom.Check("a is not b", "a is b", nil, nil)
			Expect(result.Conflicting).To(BeTrue())
		})
	})
})
