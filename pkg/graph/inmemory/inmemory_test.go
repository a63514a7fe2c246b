package inmemory_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/graph/inmemory"
	"github.com/papercomputeco/engram/pkg/record"
)

func TestInMemoryGraph(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "InMemory Graph Suite")
}

var _ = Describe("InMemory graph driver", func() {
	var (
		d   *inmemory.Driver
		ctx context.Context
	)

	const scopeHash = "scope-a"

	BeforeEach(func() {
		d = inmemory.NewDriver()
		ctx = context.Background()
	})

	Describe("Search", func() {
		BeforeEach(func() {
			Expect(d.MergeMention(ctx, scopeHash, "PostgreSQL", "rec-1")).To(Succeed())
			Expect(d.MergeMention(ctx, scopeHash, "Redis", "rec-2")).To(Succeed())
		})

		It("matches entity names case-insensitively", func() {
			results, err := d.Search(ctx, scopeHash, []string{"postgresql"}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].RecordID).To(Equal("rec-1"))
			Expect(results[0].Score).To(BeNumerically("~", 1.0, 0.001))
		})

		It("scores by fraction of terms matched", func() {
			results, err := d.Search(ctx, scopeHash, []string{"postgresql", "nothing"}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Score).To(BeNumerically("~", 0.5, 0.001))
		})

		It("stays within its scope", func() {
			results, err := d.Search(ctx, "scope-b", []string{"postgresql"}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})
	})

	Describe("Neighborhood", func() {
		BeforeEach(func() {
			// alice -[leads]- gamma -[owns]- billing, two hops end to end.
			Expect(d.MergeMention(ctx, scopeHash, "alice", "rec-alice")).To(Succeed())
			Expect(d.MergeMention(ctx, scopeHash, "gamma", "rec-gamma")).To(Succeed())
			Expect(d.MergeMention(ctx, scopeHash, "billing", "rec-billing")).To(Succeed())
			Expect(d.MergeRelation(ctx, scopeHash, record.Relation{
				Source: "alice", Relation: "leads", Target: "gamma",
			}, "rec-alice")).To(Succeed())
			Expect(d.MergeRelation(ctx, scopeHash, record.Relation{
				Source: "gamma", Relation: "owns", Target: "billing",
			}, "rec-gamma")).To(Succeed())
		})

		It("collects records by hop distance", func() {
			neighbors, err := d.Neighborhood(ctx, scopeHash, "alice", 2)
			Expect(err).NotTo(HaveOccurred())

			byRecord := map[string]int{}
			for _, n := range neighbors {
				byRecord[n.RecordID] = n.Hops
			}
			Expect(byRecord).To(HaveKeyWithValue("rec-alice", 0))
			Expect(byRecord).To(HaveKeyWithValue("rec-gamma", 1))
			Expect(byRecord).To(HaveKeyWithValue("rec-billing", 2))
		})

		It("respects the hop bound", func() {
			neighbors, err := d.Neighborhood(ctx, scopeHash, "alice", 1)
			Expect(err).NotTo(HaveOccurred())

			for _, n := range neighbors {
				Expect(n.RecordID).NotTo(Equal("rec-billing"))
			}
		})

		It("returns nothing for unknown entities", func() {
			neighbors, err := d.Neighborhood(ctx, scopeHash, "nobody", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(neighbors).To(BeEmpty())
		})
	})

	Describe("EntityRelationships", func() {
		BeforeEach(func() {
			Expect(d.MergeMention(ctx, scopeHash, "alice", "rec-1")).To(Succeed())
			Expect(d.MergeMention(ctx, scopeHash, "alice", "rec-2")).To(Succeed())
			Expect(d.MergeMention(ctx, scopeHash, "gamma", "rec-1")).To(Succeed())
			Expect(d.MergeRelation(ctx, scopeHash, record.Relation{
				Source: "alice", Relation: "leads", Target: "gamma",
			}, "rec-1")).To(Succeed())
		})

		It("summarizes mentions, related entities, and types", func() {
			rels, err := d.EntityRelationships(ctx, scopeHash, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(rels.DirectMentions).To(Equal(2))
			Expect(rels.RelatedEntities).To(HaveKey("gamma"))
			Expect(rels.RelationshipTypes).To(ConsistOf("leads"))
			Expect(rels.ConnectionStrength).To(BeNumerically("~", 2.0/7.0, 0.001))
		})

		It("returns ErrNotFound for unknown entities", func() {
			_, err := d.EntityRelationships(ctx, scopeHash, "nobody")
			Expect(err).To(MatchError(graph.ErrNotFound))
		})
	})

	Describe("DetachRecord", func() {
		It("removes a record's mentions and relations but keeps shared entities", func() {
			Expect(d.MergeMention(ctx, scopeHash, "alice", "rec-1")).To(Succeed())
			Expect(d.MergeMention(ctx, scopeHash, "alice", "rec-2")).To(Succeed())
			Expect(d.MergeRelation(ctx, scopeHash, record.Relation{
				Source: "alice", Relation: "leads", Target: "gamma",
			}, "rec-1")).To(Succeed())

			Expect(d.DetachRecord(ctx, scopeHash, "rec-1")).To(Succeed())

			rels, err := d.EntityRelationships(ctx, scopeHash, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(rels.DirectMentions).To(Equal(1))
			Expect(rels.RelationshipTypes).To(BeEmpty())
		})
	})
})
