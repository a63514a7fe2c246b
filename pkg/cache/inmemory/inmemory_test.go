package inmemory_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/cache/inmemory"
	testutils "github.com/papercomputeco/engram/pkg/utils/test"
)

func TestInMemoryCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "InMemory Cache Suite")
}

var _ = Describe("InMemory cache", func() {
	var (
		clk *testutils.FakeClock
		c   *inmemory.Cache
		ctx context.Context
	)

	BeforeEach(func() {
		clk = testutils.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
		c = inmemory.NewCacheWithNow(clk.Now)
		ctx = context.Background()
	})

	It("round-trips values within the TTL", func() {
		Expect(c.Set(ctx, "k", []byte("v"), time.Minute)).To(Succeed())

		got, ok, err := c.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal([]byte("v")))
	})

	It("expires values after the TTL", func() {
		Expect(c.Set(ctx, "k", []byte("v"), time.Minute)).To(Succeed())
		clk.Advance(2 * time.Minute)

		_, ok, err := c.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("invalidates by prefix only", func() {
		Expect(c.Set(ctx, "mem:v1:a:search:1", []byte("x"), time.Minute)).To(Succeed())
		Expect(c.Set(ctx, "mem:v1:a:search:2", []byte("y"), time.Minute)).To(Succeed())
		Expect(c.Set(ctx, "mem:v1:b:search:1", []byte("z"), time.Minute)).To(Succeed())

		removed, err := c.InvalidatePrefix(ctx, "mem:v1:a:")
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(Equal(2))

		_, ok, _ := c.Get(ctx, "mem:v1:b:search:1")
		Expect(ok).To(BeTrue())
	})
})
