package engine_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	cacheinmemory "github.com/papercomputeco/engram/pkg/cache/inmemory"
	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/extract"
	graphinmemory "github.com/papercomputeco/engram/pkg/graph/inmemory"
	locallock "github.com/papercomputeco/engram/pkg/lock/local"
	"github.com/papercomputeco/engram/pkg/record"
	"github.com/papercomputeco/engram/pkg/scope"
	testutils "github.com/papercomputeco/engram/pkg/utils/test"
	vectorinmemory "github.com/papercomputeco/engram/pkg/vector/inmemory"
)

// fixture wires an engine over in-memory ports with toggleable outages.
type fixture struct {
	engine    *engine.Engine
	vector    *testutils.FlakyVector
	graph     *testutils.FlakyGraph
	embedder  *testutils.MockEmbedder
	extractor *testutils.MockExtractor
	events    *testutils.CapturePublisher
	clock     *testutils.FakeClock
}

func newFixture() *fixture {
	clk := testutils.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	f := &fixture{
		vector:    testutils.NewFlakyVector(vectorinmemory.NewDriver()),
		graph:     testutils.NewFlakyGraph(graphinmemory.NewDriver()),
		embedder:  testutils.NewMockEmbedder(),
		extractor: testutils.NewMockExtractor(),
		events:    testutils.NewCapturePublisher(),
		clock:     clk,
	}

	f.engine = engine.New(engine.Ports{
		Vector:    f.vector,
		Graph:     f.graph,
		Embedder:  f.embedder,
		Extractor: f.extractor,
		Cache:     cacheinmemory.NewCacheWithNow(clk.Now),
		Events:    f.events,
		Locks:     locallock.NewManager(clk),
		Clock:     clk,
	}, engine.Config{}, nil, engine.Capabilities{
		VectorAvailable: true,
		GraphAvailable:  true,
	}, zap.NewNop())

	return f
}

func intPtr(n int) *int {
	return &n
}

var _ = Describe("Engine", func() {
	var (
		f   *fixture
		ctx context.Context
		s   scope.Scope
	)

	BeforeEach(func() {
		f = newFixture()
		ctx = context.Background()
		s = scope.Scope{Tenant: "t1", User: "u1", Project: "p1"}
	})

	Describe("Save", func() {
		It("writes to both backends and emits one created event", func() {
			f.extractor.Extractions["The service uses PostgreSQL"] = &extract.Extraction{
				Entities: []string{"PostgreSQL"},
			}

			result, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "The service uses PostgreSQL",
				Category:   record.CategoryArchitecture,
				Confidence: intPtr(9),
				Source:     "code_review",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Created).To(BeTrue())
			Expect(result.Degraded).To(BeFalse())
			Expect(result.Record.Status).To(Equal(record.StatusActive))

			rec, err := f.engine.Get(ctx, s, result.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Content).To(Equal("The service uses PostgreSQL"))

			rels, err := f.engine.GetEntityRelationships(ctx, s, "PostgreSQL")
			Expect(err).NotTo(HaveOccurred())
			Expect(rels.DirectMentions).To(Equal(1))

			Expect(f.events.Events(eventstream.TopicMemoryCreated)).To(HaveLen(1))
		})

		It("serializes concurrent saves of the same fingerprint", func() {
			req := engine.SaveRequest{
				Scope:      s,
				Content:    "The service uses PostgreSQL",
				Category:   record.CategoryArchitecture,
				Confidence: intPtr(9),
				Source:     "code_review",
			}

			var wg sync.WaitGroup
			results := make([]*engine.SaveResult, 2)
			errs := make([]error, 2)
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = f.engine.Save(ctx, req)
				}(i)
			}
			wg.Wait()

			// Exactly one call performs the physical write; the other is
			// either told to retry or sees the already-written record.
			created := 0
			for i := range results {
				if errs[i] != nil {
					Expect(engine.IsKind(errs[i], engine.KindContended)).To(BeTrue())
					continue
				}
				if results[i].Created {
					created++
				}
			}
			Expect(created).To(Equal(1))
			Expect(f.events.Events(eventstream.TopicMemoryCreated)).To(HaveLen(1))
		})

		It("is idempotent for identical scope and content", func() {
			req := engine.SaveRequest{
				Scope:      s,
				Content:    "The service uses PostgreSQL",
				Category:   record.CategoryArchitecture,
				Confidence: intPtr(9),
				Source:     "code_review",
			}

			first, err := f.engine.Save(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Created).To(BeTrue())

			second, err := f.engine.Save(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Created).To(BeFalse())
			Expect(second.ID).To(Equal(first.ID))

			Expect(f.events.Events(eventstream.TopicMemoryCreated)).To(HaveLen(1))
		})

		It("applies category defaults for confidence and expiry", func() {
			result, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:    s,
				Content:  "CI is flaky on arm64 runners",
				Category: record.CategoryProblem,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Record.Confidence).To(Equal(6))
			Expect(result.Record.ExpiresAt).NotTo(BeNil())
			Expect(result.Record.ExpiresAt.Sub(f.clock.Now())).To(Equal(90 * 24 * time.Hour))
		})

		It("rejects confidence outside 1..10", func() {
			for _, confidence := range []int{0, 11} {
				_, err := f.engine.Save(ctx, engine.SaveRequest{
					Scope:      s,
					Content:    "anything",
					Category:   record.CategoryGeneric,
					Confidence: intPtr(confidence),
				})
				Expect(err).To(HaveOccurred())
				Expect(engine.IsKind(err, engine.KindInvalidInput)).To(BeTrue())
			}
		})

		It("rejects incomplete scopes and unknown categories", func() {
			_, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:    scope.Scope{Tenant: "t1"},
				Content:  "anything",
				Category: record.CategoryGeneric,
			})
			Expect(engine.IsKind(err, engine.KindInvalidInput)).To(BeTrue())

			_, err = f.engine.Save(ctx, engine.SaveRequest{
				Scope:    s,
				Content:  "anything",
				Category: record.Category("opinions"),
			})
			Expect(engine.IsKind(err, engine.KindInvalidInput)).To(BeTrue())
		})

		It("aborts when the embedder is down", func() {
			f.embedder.Fail = true

			_, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:    s,
				Content:  "anything",
				Category: record.CategoryGeneric,
			})
			Expect(engine.IsKind(err, engine.KindEmbedderUnavailable)).To(BeTrue())
		})

		It("proceeds with an empty graph payload when the extractor is down", func() {
			f.extractor.Fail = true

			result, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:    s,
				Content:  "Alice leads team Gamma",
				Category: record.CategoryGeneric,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Created).To(BeTrue())
			Expect(result.Record.Entities).To(BeEmpty())
			Expect(result.Record.Extra).To(HaveKeyWithValue("extraction_degraded", "true"))
		})
	})

	Describe("Conflict detection", func() {
		BeforeEach(func() {
			_, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "The service uses PostgreSQL",
				Category:   record.CategoryArchitecture,
				Confidence: intPtr(9),
				Source:     "code_review",
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("flags contradicting near-duplicates on both sides", func() {
			first, err := f.engine.Get(ctx, s, scope.Fingerprint(s, "The service uses PostgreSQL"))
			Expect(err).NotTo(HaveOccurred())

			result, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "The service uses MongoDB",
				Category:   record.CategoryArchitecture,
				Confidence: intPtr(8),
				Source:     "issue_123",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Record.Status).To(Equal(record.StatusConflicted))
			Expect(result.Record.ConflictWith).To(ConsistOf(first.ID))
			Expect(result.Conflicts).To(HaveLen(1))

			// Second pass: the older record is flagged too.
			refreshed, err := f.engine.Get(ctx, s, first.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(refreshed.Status).To(Equal(record.StatusConflicted))
			Expect(refreshed.ConflictWith).To(ConsistOf(result.ID))

			Expect(f.events.Events(eventstream.TopicMemoryConflicted)).To(HaveLen(1))
		})

		It("does not flag unrelated memories in another category", func() {
			result, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "The service uses MongoDB",
				Category:   record.CategoryDecision,
				Confidence: intPtr(8),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Record.Status).To(Equal(record.StatusActive))
		})
	})

	Describe("ResolveConflict", func() {
		var id1, id2 string

		BeforeEach(func() {
			first, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "The service uses PostgreSQL",
				Category:   record.CategoryArchitecture,
				Confidence: intPtr(9),
				Source:     "code_review",
			})
			Expect(err).NotTo(HaveOccurred())
			id1 = first.ID

			second, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "The service uses MongoDB",
				Category:   record.CategoryArchitecture,
				Confidence: intPtr(8),
				Source:     "issue_123",
			})
			Expect(err).NotTo(HaveOccurred())
			id2 = second.ID
			Expect(second.Record.Status).To(Equal(record.StatusConflicted))
		})

		It("deprecates the originals and writes a consolidated successor", func() {
			resolved, err := f.engine.ResolveConflict(ctx, engine.ResolveRequest{
				Scope:          s,
				ConflictingIDs: []string{id1, id2},
				CorrectContent: "The service uses PostgreSQL as primary and MongoDB for logs.",
				Reason:         "arch review 2025-Q1",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved.Confidence).To(Equal(10))
			Expect(resolved.Status).To(Equal(record.StatusActive))
			Expect(resolved.Source).To(Equal("conflict_resolution"))
			Expect(resolved.ConflictWith).To(ConsistOf(id1, id2))

			for _, id := range []string{id1, id2} {
				orig, err := f.engine.Get(ctx, s, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(orig.Status).To(Equal(record.StatusDeprecated))
				Expect(orig.SupersededBy).To(Equal(resolved.ID))
				Expect(orig.Version).To(Equal(2))
			}

			Expect(f.events.Events(eventstream.TopicMemoryDeprecated)).To(HaveLen(2))

			// Quality-filtered reads see only the successor.
			resp, err := f.engine.GetContext(ctx, engine.SearchRequest{
				Scope: s,
				Query: "database choice",
				Filter: engine.SearchFilter{
					MinConfidence: 7,
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Results).To(HaveLen(1))
			Expect(resp.Results[0].Record.ID).To(Equal(resolved.ID))
		})

		It("fails with ConflictUnresolved when resolving twice", func() {
			_, err := f.engine.ResolveConflict(ctx, engine.ResolveRequest{
				Scope:          s,
				ConflictingIDs: []string{id1, id2},
				CorrectContent: "The service uses PostgreSQL as primary and MongoDB for logs.",
				Reason:         "arch review 2025-Q1",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = f.engine.ResolveConflict(ctx, engine.ResolveRequest{
				Scope:          s,
				ConflictingIDs: []string{id1, id2},
				CorrectContent: "A different consolidation.",
				Reason:         "second attempt",
			})
			Expect(err).To(HaveOccurred())
			Expect(engine.IsKind(err, engine.KindConflictUnresolved)).To(BeTrue())
		})

		It("rejects unknown originals", func() {
			_, err := f.engine.ResolveConflict(ctx, engine.ResolveRequest{
				Scope:          s,
				ConflictingIDs: []string{"00000000-0000-0000-0000-000000000000"},
				CorrectContent: "anything",
			})
			Expect(engine.IsKind(err, engine.KindNotFound)).To(BeTrue())
		})
	})

	Describe("Graph outage during write", func() {
		BeforeEach(func() {
			f.extractor.Extractions["User Alice leads team Gamma."] = &extract.Extraction{
				Entities: []string{"Alice", "Gamma"},
				Relations: []record.Relation{
					{Source: "Alice", Relation: "leads", Target: "Gamma"},
				},
			}
			f.graph.SetDown(true)
		})

		It("degrades the write, compensates on recovery, and clears the flag", func() {
			result, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "User Alice leads team Gamma.",
				Category:   record.CategoryGeneric,
				Confidence: intPtr(7),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Degraded).To(BeTrue())
			Expect(f.engine.CompensationPending()).To(Equal(1))

			// The vector leg holds the record, flagged degraded.
			rec, err := f.engine.Get(ctx, s, result.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Extra).To(HaveKeyWithValue("degraded", "true"))

			// Recovery: the compensation retry completes the graph leg.
			f.graph.SetDown(false)
			f.engine.RunCompensation(ctx)
			Expect(f.engine.CompensationPending()).To(BeZero())

			rec, err = f.engine.Get(ctx, s, result.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Extra).NotTo(HaveKey("degraded"))

			rels, err := f.engine.GetEntityRelationships(ctx, s, "Alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(rels.DirectMentions).To(Equal(1))
			Expect(rels.RelationshipTypes).To(ContainElement("leads"))
		})

		It("gives up after the retry budget and emits a terminal event", func() {
			_, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "User Alice leads team Gamma.",
				Category:   record.CategoryGeneric,
				Confidence: intPtr(7),
			})
			Expect(err).NotTo(HaveOccurred())

			// Still down: each drain consumes one attempt.
			for i := 0; i < 5; i++ {
				f.engine.RunCompensation(ctx)
			}

			Expect(f.engine.CompensationPending()).To(BeZero())
			Expect(f.events.Events(eventstream.TopicCompensationFailed)).To(HaveLen(1))
		})
	})

	Describe("Expiry sweep", func() {
		It("expires overdue records exactly once and keeps them in the timeline", func() {
			past := f.clock.Now().Add(-time.Second)
			result, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "Deploy freeze until Friday",
				Category:   record.CategoryStatus,
				Confidence: intPtr(8),
				ExpiresAt:  &past,
			})
			Expect(err).NotTo(HaveOccurred())
			// Overdue expiry is not rejected; the record starts active.
			Expect(result.Record.Status).To(Equal(record.StatusActive))

			Expect(f.engine.SweepNow(ctx)).To(Equal(1))

			rec, err := f.engine.Get(ctx, s, result.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(record.StatusExpired))
			Expect(f.events.Events(eventstream.TopicMemoryExpired)).To(HaveLen(1))

			// Idempotent: a second sweep changes nothing.
			Expect(f.engine.SweepNow(ctx)).To(BeZero())
			Expect(f.events.Events(eventstream.TopicMemoryExpired)).To(HaveLen(1))

			resp, err := f.engine.GetContext(ctx, engine.SearchRequest{
				Scope: s,
				Query: "deploy freeze",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Results).To(BeEmpty())

			timeline, err := f.engine.TrackEvolution(ctx, s, "p1", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(timeline.Entries).To(HaveLen(1))
			Expect(timeline.Entries[0].Status).To(Equal(record.StatusExpired))
		})

		It("expires records as the clock passes their category TTL", func() {
			_, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:    s,
				Content:  "Standup moved to 9:30",
				Category: record.CategoryStatus,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(f.engine.SweepNow(ctx)).To(BeZero())

			f.clock.Advance(31 * 24 * time.Hour)
			Expect(f.engine.SweepNow(ctx)).To(Equal(1))
		})
	})

	Describe("Hybrid retrieval", func() {
		BeforeEach(func() {
			f.extractor.Extractions["Alice maintains the billing service"] = &extract.Extraction{
				Entities: []string{"Alice", "billing service"},
				Relations: []record.Relation{
					{Source: "Alice", Relation: "maintains", Target: "billing service"},
				},
			}
			_, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "Alice maintains the billing service",
				Category:   record.CategoryGeneric,
				Confidence: intPtr(8),
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "Rate limits are enforced at the gateway",
				Category:   record.CategoryArchitecture,
				Confidence: intPtr(8),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("merges vector and graph results with graph boosting", func() {
			f.extractor.Extractions["who owns billing?"] = &extract.Extraction{
				Entities: []string{"Alice"},
			}

			resp, err := f.engine.Search(ctx, engine.SearchRequest{
				Scope: s,
				Query: "who owns billing?",
				K:     5,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Degraded).To(BeFalse())
			Expect(resp.Results).NotTo(BeEmpty())

			// The graph-connected record outranks the vector-only one.
			Expect(resp.Results[0].Record.Content).To(Equal("Alice maintains the billing service"))
			Expect(resp.Results[0].GraphScore).To(BeNumerically(">", 0))
		})

		It("returns vector-only results with a degraded flag when the graph is down", func() {
			f.graph.SetDown(true)

			resp, err := f.engine.Search(ctx, engine.SearchRequest{
				Scope: s,
				Query: "billing ownership",
				K:     5,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Degraded).To(BeTrue())
			Expect(resp.Results).NotTo(BeEmpty())
		})

		It("returns graph-only results with a degraded flag when the embedder is down", func() {
			f.extractor.Extractions["billing"] = &extract.Extraction{
				Entities: []string{"billing service"},
			}
			f.embedder.Fail = true

			resp, err := f.engine.Search(ctx, engine.SearchRequest{
				Scope: s,
				Query: "billing",
				K:     5,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Degraded).To(BeTrue())
			Expect(resp.Results).To(HaveLen(1))
			Expect(resp.Results[0].Record.Content).To(Equal("Alice maintains the billing service"))
		})

		It("never leaks records across scopes", func() {
			other := scope.Scope{Tenant: "t2", User: "u9"}
			resp, err := f.engine.Search(ctx, engine.SearchRequest{
				Scope: other,
				Query: "billing",
				K:     5,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Results).To(BeEmpty())
		})

		It("serves repeated queries from cache", func() {
			req := engine.SearchRequest{Scope: s, Query: "rate limits", K: 5}

			first, err := f.engine.Search(ctx, req)
			Expect(err).NotTo(HaveOccurred())

			// An outage after caching goes unnoticed within the TTL.
			f.graph.SetDown(true)
			f.embedder.Fail = true

			second, err := f.engine.Search(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Results).To(HaveLen(len(first.Results)))
			Expect(second.Degraded).To(BeFalse())
		})

		It("sorts strictly by combined score with deterministic tie-breaks", func() {
			resp, err := f.engine.Search(ctx, engine.SearchRequest{
				Scope: s,
				Query: "everything",
				K:     10,
			})
			Expect(err).NotTo(HaveOccurred())
			for i := 1; i < len(resp.Results); i++ {
				prev, cur := resp.Results[i-1], resp.Results[i]
				Expect(prev.Score).To(BeNumerically(">=", cur.Score))
				if prev.Score == cur.Score {
					ordered := prev.Record.CreatedAt.After(cur.Record.CreatedAt) ||
						(prev.Record.CreatedAt.Equal(cur.Record.CreatedAt) && prev.Record.ID < cur.Record.ID)
					Expect(ordered).To(BeTrue())
				}
			}
		})
	})

	Describe("SaveVerified", func() {
		It("requires a source and confidence of at least 7", func() {
			_, err := f.engine.SaveVerified(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "verified fact",
				Category:   record.CategoryGeneric,
				Confidence: intPtr(9),
			})
			Expect(engine.IsKind(err, engine.KindInvalidInput)).To(BeTrue())

			_, err = f.engine.SaveVerified(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "verified fact",
				Category:   record.CategoryGeneric,
				Confidence: intPtr(6),
				Source:     "audit",
			})
			Expect(engine.IsKind(err, engine.KindInvalidInput)).To(BeTrue())

			result, err := f.engine.SaveVerified(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "verified fact",
				Category:   record.CategoryGeneric,
				Confidence: intPtr(8),
				Source:     "audit",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Record.Confidence).To(Equal(8))
		})
	})

	Describe("Milestones and project state", func() {
		saveMilestone := func(content string, mt record.MilestoneType, impact int) {
			_, err := f.engine.SaveMilestone(ctx, engine.SaveRequest{
				Scope:         s,
				Content:       content,
				MilestoneType: mt,
				ImpactLevel:   impact,
			})
			Expect(err).NotTo(HaveOccurred())
		}

		It("validates milestone type and impact level", func() {
			_, err := f.engine.SaveMilestone(ctx, engine.SaveRequest{
				Scope:         s,
				Content:       "shipped",
				MilestoneType: record.MilestoneType("party"),
				ImpactLevel:   5,
			})
			Expect(engine.IsKind(err, engine.KindInvalidInput)).To(BeTrue())

			_, err = f.engine.SaveMilestone(ctx, engine.SaveRequest{
				Scope:         s,
				Content:       "shipped",
				MilestoneType: record.MilestoneSolutionImplemented,
				ImpactLevel:   11,
			})
			Expect(engine.IsKind(err, engine.KindInvalidInput)).To(BeTrue())
		})

		It("defaults milestones to confidence 9 with no expiry", func() {
			result, err := f.engine.SaveMilestone(ctx, engine.SaveRequest{
				Scope:         s,
				Content:       "Adopted event sourcing for orders",
				MilestoneType: record.MilestoneArchitectureDecision,
				ImpactLevel:   8,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Record.Confidence).To(Equal(9))
			Expect(result.Record.ExpiresAt).To(BeNil())
			Expect(result.Record.Category).To(Equal(record.CategoryMilestone))
		})

		It("derives the project phase from milestone count", func() {
			state, err := f.engine.GetProjectState(ctx, s, "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Phase).To(Equal("planning"))

			saveMilestone("Picked the stack", record.MilestoneArchitectureDecision, 7)
			f.clock.Advance(time.Hour)
			saveMilestone("Found the N+1 query", record.MilestoneProblemIdentified, 5)

			state, err = f.engine.GetProjectState(ctx, s, "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Phase).To(Equal("in_progress"))
			Expect(state.Milestones).To(HaveLen(2))
			// Newest first.
			Expect(state.Milestones[0].Content).To(Equal("Found the N+1 query"))

			f.clock.Advance(time.Hour)
			saveMilestone("Fixed the N+1 query", record.MilestoneSolutionImplemented, 6)
			f.clock.Advance(time.Hour)
			saveMilestone("Cut over traffic", record.MilestoneStatusChange, 8)
			f.clock.Advance(time.Hour)
			saveMilestone("Retired the old path", record.MilestoneStatusChange, 4)

			state, err = f.engine.GetProjectState(ctx, s, "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Phase).To(Equal("mature"))
			Expect(state.Milestones).To(HaveLen(5))
		})

		It("includes the most recent status record", func() {
			_, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:    s,
				Content:  "Sprint 12 in flight",
				Category: record.CategoryStatus,
			})
			Expect(err).NotTo(HaveOccurred())

			f.clock.Advance(time.Hour)
			_, err = f.engine.Save(ctx, engine.SaveRequest{
				Scope:    s,
				Content:  "Sprint 13 in flight",
				Category: record.CategoryStatus,
			})
			Expect(err).NotTo(HaveOccurred())

			state, err := f.engine.GetProjectState(ctx, s, "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(state.LatestStatus).NotTo(BeNil())
			Expect(state.LatestStatus.Content).To(Equal("Sprint 13 in flight"))
		})

		It("tracks evolution with supersession edges", func() {
			first, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "The service uses PostgreSQL",
				Category:   record.CategoryArchitecture,
				Confidence: intPtr(9),
			})
			Expect(err).NotTo(HaveOccurred())

			f.clock.Advance(time.Hour)
			second, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "The service uses MongoDB",
				Category:   record.CategoryArchitecture,
				Confidence: intPtr(8),
			})
			Expect(err).NotTo(HaveOccurred())

			f.clock.Advance(time.Hour)
			resolved, err := f.engine.ResolveConflict(ctx, engine.ResolveRequest{
				Scope:          s,
				ConflictingIDs: []string{first.ID, second.ID},
				CorrectContent: "PostgreSQL primary, MongoDB for logs",
				Reason:         "review",
			})
			Expect(err).NotTo(HaveOccurred())

			timeline, err := f.engine.TrackEvolution(ctx, s, "p1", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(timeline.Entries).To(HaveLen(3))
			// Ascending by creation time.
			Expect(timeline.Entries[0].ID).To(Equal(first.ID))
			Expect(timeline.Entries[2].ID).To(Equal(resolved.ID))
			Expect(timeline.Edges).To(ConsistOf(
				engine.TimelineEdge{From: first.ID, To: resolved.ID},
				engine.TimelineEdge{From: second.ID, To: resolved.ID},
			))
		})
	})

	Describe("Quality audit", func() {
		It("reports counts, averages, and recommendations", func() {
			_, err := f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "The service uses PostgreSQL",
				Category:   record.CategoryArchitecture,
				Confidence: intPtr(9),
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = f.engine.Save(ctx, engine.SaveRequest{
				Scope:      s,
				Content:    "The service uses MongoDB",
				Category:   record.CategoryArchitecture,
				Confidence: intPtr(8),
			})
			Expect(err).NotTo(HaveOccurred())

			report, err := f.engine.ValidateProject(ctx, s, "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Total).To(Equal(2))
			Expect(report.ConflictedCount).To(Equal(2))
			Expect(report.ByCategory[record.CategoryArchitecture]).To(Equal(2))
			Expect(report.AverageConfidence).To(BeNumerically("~", 8.5, 0.01))
			Expect(report.QualityScore).To(BeNumerically(">", 0))
			Expect(report.Recommendations).To(ContainElement(ContainSubstring("resolve conflicts")))
		})

		It("requires an operator for cross-scope audits", func() {
			_, err := f.engine.AuditQuality(ctx, engine.AuditRequest{})
			Expect(engine.IsKind(err, engine.KindInvalidInput)).To(BeTrue())

			reports, err := f.engine.AuditQuality(ctx, engine.AuditRequest{Operator: "ops@engram"})
			Expect(err).NotTo(HaveOccurred())
			Expect(reports).To(BeEmpty())
		})
	})

	Describe("GetAll", func() {
		It("pages through the scope newest first", func() {
			for _, content := range []string{"one", "two", "three"} {
				_, err := f.engine.Save(ctx, engine.SaveRequest{
					Scope:    s,
					Content:  content,
					Category: record.CategoryGeneric,
				})
				Expect(err).NotTo(HaveOccurred())
				f.clock.Advance(time.Minute)
			}

			page, err := f.engine.GetAll(ctx, s, "", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Records).To(HaveLen(2))
			Expect(page.Cursor).NotTo(BeEmpty())
			Expect(page.Records[0].Content).To(Equal("three"))

			rest, err := f.engine.GetAll(ctx, s, page.Cursor, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(rest.Records).To(HaveLen(1))
			Expect(rest.Records[0].Content).To(Equal("one"))
		})
	})

	Describe("Get", func() {
		It("returns NotFound for unknown ids", func() {
			_, err := f.engine.Get(ctx, s, "11111111-2222-3333-4444-555555555555")
			Expect(engine.IsKind(err, engine.KindNotFound)).To(BeTrue())
		})
	})
})
