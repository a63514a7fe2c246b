package record_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/record"
)

func TestRecord(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Record Suite")
}

var _ = Describe("Record", func() {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	Describe("category defaults", func() {
		It("maps each category to its confidence default", func() {
			Expect(record.DefaultConfidence(record.CategoryArchitecture)).To(Equal(8))
			Expect(record.DefaultConfidence(record.CategoryDecision)).To(Equal(8))
			Expect(record.DefaultConfidence(record.CategorySolution)).To(Equal(7))
			Expect(record.DefaultConfidence(record.CategoryProblem)).To(Equal(6))
			Expect(record.DefaultConfidence(record.CategoryStatus)).To(Equal(6))
			Expect(record.DefaultConfidence(record.CategoryMilestone)).To(Equal(9))
			Expect(record.DefaultConfidence(record.CategoryGeneric)).To(Equal(5))
		})

		It("gives milestones and generic records no expiry", func() {
			Expect(record.DefaultExpiry(record.CategoryMilestone, now)).To(BeNil())
			Expect(record.DefaultExpiry(record.CategoryGeneric, now)).To(BeNil())
		})

		It("derives expiry from the category TTL", func() {
			expiry := record.DefaultExpiry(record.CategoryStatus, now)
			Expect(expiry).NotTo(BeNil())
			Expect(expiry.Sub(now)).To(Equal(30 * 24 * time.Hour))
		})
	})

	Describe("validation", func() {
		It("accepts confidence 1 through 10", func() {
			Expect(record.ValidateConfidence(1)).To(Succeed())
			Expect(record.ValidateConfidence(10)).To(Succeed())
		})

		It("rejects confidence 0 and 11", func() {
			Expect(record.ValidateConfidence(0)).To(MatchError(record.ErrInvalidConfidence))
			Expect(record.ValidateConfidence(11)).To(MatchError(record.ErrInvalidConfidence))
		})

		It("rejects unknown milestone types and impact levels", func() {
			Expect(record.ValidateMilestone(record.MilestoneStatusChange, 5)).To(Succeed())
			Expect(record.ValidateMilestone("vibes", 5)).To(MatchError(record.ErrInvalidMilestone))
			Expect(record.ValidateMilestone(record.MilestoneStatusChange, 0)).To(MatchError(record.ErrInvalidMilestone))
		})
	})

	Describe("WalkSupersession", func() {
		lookup := func(records map[string]*record.MemoryRecord) func(string) (*record.MemoryRecord, bool) {
			return func(id string) (*record.MemoryRecord, bool) {
				r, ok := records[id]
				return r, ok
			}
		}

		It("follows a linear chain", func() {
			records := map[string]*record.MemoryRecord{
				"a": {ID: "a", SupersededBy: "b"},
				"b": {ID: "b", SupersededBy: "c"},
				"c": {ID: "c"},
			}
			chain, err := record.WalkSupersession("a", lookup(records))
			Expect(err).NotTo(HaveOccurred())
			Expect(chain).To(Equal([]string{"b", "c"}))
		})

		It("detects cycles", func() {
			records := map[string]*record.MemoryRecord{
				"a": {ID: "a", SupersededBy: "b"},
				"b": {ID: "b", SupersededBy: "a"},
			}
			_, err := record.WalkSupersession("a", lookup(records))
			Expect(err).To(MatchError(record.ErrSupersessionCycle))
		})
	})

	Describe("Clone", func() {
		It("copies without aliasing", func() {
			expires := now
			original := &record.MemoryRecord{
				ID:        "a",
				Tags:      []string{"one"},
				ExpiresAt: &expires,
				Extra:     map[string]string{"k": "v"},
			}

			clone := original.Clone()
			clone.Tags[0] = "changed"
			clone.Extra["k"] = "changed"
			*clone.ExpiresAt = now.Add(time.Hour)

			Expect(original.Tags[0]).To(Equal("one"))
			Expect(original.Extra["k"]).To(Equal("v"))
			Expect(*original.ExpiresAt).To(Equal(now))
		})
	})
})
