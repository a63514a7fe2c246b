package local_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/lock"
	"github.com/papercomputeco/engram/pkg/lock/local"
	testutils "github.com/papercomputeco/engram/pkg/utils/test"
)

func TestLocal(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Local Lock Suite")
}

var _ = Describe("Local lock manager", func() {
	var (
		clk *testutils.FakeClock
		m   *local.Manager
		ctx context.Context
	)

	BeforeEach(func() {
		clk = testutils.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
		m = local.NewManager(clk)
		ctx = context.Background()
	})

	It("grants a free lock and blocks a second holder", func() {
		ok, err := m.TryAcquire(ctx, "lock:mem:a:1", "holder-a", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		ok, err = m.TryAcquire(ctx, "lock:mem:a:1", "holder-b", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("is re-entrant per holder", func() {
		for i := 0; i < 2; i++ {
			ok, err := m.TryAcquire(ctx, "k", "holder-a", time.Minute)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		}

		// Both holds must release before another holder gets in.
		Expect(m.Release(ctx, "k", "holder-a")).To(Succeed())
		ok, _ := m.TryAcquire(ctx, "k", "holder-b", time.Minute)
		Expect(ok).To(BeFalse())

		Expect(m.Release(ctx, "k", "holder-a")).To(Succeed())
		ok, _ = m.TryAcquire(ctx, "k", "holder-b", time.Minute)
		Expect(ok).To(BeTrue())
	})

	It("frees a lock held beyond its TTL by a dead holder", func() {
		ok, _ := m.TryAcquire(ctx, "k", "dead-holder", time.Minute)
		Expect(ok).To(BeTrue())

		clk.Advance(61 * time.Second)

		ok, err := m.TryAcquire(ctx, "k", "next-holder", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("rejects releases by non-holders", func() {
		_, _ = m.TryAcquire(ctx, "k", "holder-a", time.Minute)
		Expect(m.Release(ctx, "k", "holder-b")).To(MatchError(lock.ErrNotHeld))
	})

	It("rejects releases after expiry", func() {
		_, _ = m.TryAcquire(ctx, "k", "holder-a", time.Minute)
		clk.Advance(2 * time.Minute)
		Expect(m.Release(ctx, "k", "holder-a")).To(MatchError(lock.ErrNotHeld))
	})

	Describe("WithLock", func() {
		It("runs the function under the lock and releases after", func() {
			ran := false
			err := lock.WithLock(ctx, m, "k", "holder-a", time.Minute, func() error {
				ran = true
				ok, _ := m.TryAcquire(ctx, "k", "holder-b", time.Minute)
				Expect(ok).To(BeFalse())
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(ran).To(BeTrue())

			ok, _ := m.TryAcquire(ctx, "k", "holder-b", time.Minute)
			Expect(ok).To(BeTrue())
		})
	})
})
