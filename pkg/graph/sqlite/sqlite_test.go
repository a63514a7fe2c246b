package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/graph/sqlite"
	"github.com/papercomputeco/engram/pkg/record"
)

func TestSQLiteGraph(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SQLite Graph Suite")
}

var _ = Describe("SQLite graph driver", func() {
	var (
		d   *sqlite.Driver
		ctx context.Context
	)

	const scopeHash = "scope-a"

	BeforeEach(func() {
		var err error
		d, err = sqlite.NewDriver(context.Background(), sqlite.Config{
			DBPath: filepath.Join(GinkgoT().TempDir(), "graph.db"),
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(d.Close()).To(Succeed())
	})

	It("requires a database path", func() {
		_, err := sqlite.NewDriver(context.Background(), sqlite.Config{}, zap.NewNop())
		Expect(err).To(HaveOccurred())
	})

	It("deduplicates entities case-insensitively within a scope", func() {
		Expect(d.MergeEntity(ctx, scopeHash, "PostgreSQL")).To(Succeed())
		Expect(d.MergeEntity(ctx, scopeHash, "postgresql")).To(Succeed())
		Expect(d.MergeMention(ctx, scopeHash, "POSTGRESQL", "rec-1")).To(Succeed())

		rels, err := d.EntityRelationships(ctx, scopeHash, "postgresql")
		Expect(err).NotTo(HaveOccurred())
		Expect(rels.Entity).To(Equal("PostgreSQL"))
		Expect(rels.DirectMentions).To(Equal(1))
	})

	It("merges mentions and relations idempotently", func() {
		rel := record.Relation{Source: "Alice", Relation: "leads", Target: "Gamma"}
		for i := 0; i < 2; i++ {
			Expect(d.MergeMention(ctx, scopeHash, "Alice", "rec-1")).To(Succeed())
			Expect(d.MergeRelation(ctx, scopeHash, rel, "rec-1")).To(Succeed())
		}

		rels, err := d.EntityRelationships(ctx, scopeHash, "Alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(rels.DirectMentions).To(Equal(1))
		Expect(rels.RelationshipTypes).To(ConsistOf("leads"))
	})

	It("searches, walks neighborhoods, and detaches records", func() {
		Expect(d.MergeMention(ctx, scopeHash, "Alice", "rec-alice")).To(Succeed())
		Expect(d.MergeMention(ctx, scopeHash, "Gamma", "rec-gamma")).To(Succeed())
		Expect(d.MergeRelation(ctx, scopeHash, record.Relation{
			Source: "Alice", Relation: "leads", Target: "Gamma",
		}, "rec-alice")).To(Succeed())

		results, err := d.Search(ctx, scopeHash, []string{"alice"}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].RecordID).To(Equal("rec-alice"))

		neighbors, err := d.Neighborhood(ctx, scopeHash, "Alice", 2)
		Expect(err).NotTo(HaveOccurred())
		byRecord := map[string]int{}
		for _, n := range neighbors {
			byRecord[n.RecordID] = n.Hops
		}
		Expect(byRecord).To(HaveKeyWithValue("rec-alice", 0))
		Expect(byRecord).To(HaveKeyWithValue("rec-gamma", 1))

		Expect(d.DetachRecord(ctx, scopeHash, "rec-alice")).To(Succeed())
		results, err = d.Search(ctx, scopeHash, []string{"alice"}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(BeEmpty())
	})

	It("isolates scopes", func() {
		Expect(d.MergeMention(ctx, scopeHash, "Alice", "rec-1")).To(Succeed())

		_, err := d.EntityRelationships(ctx, "scope-b", "Alice")
		Expect(err).To(MatchError(graph.ErrNotFound))
	})
})
