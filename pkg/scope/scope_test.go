package scope_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/scope"
)

func TestScope(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scope Suite")
}

var _ = Describe("Scope", func() {
	Describe("Validate", func() {
		It("requires tenant and user", func() {
			Expect(scope.Scope{Tenant: "t", User: "u"}.Validate()).To(Succeed())
			Expect(scope.Scope{Tenant: "t"}.Validate()).To(MatchError(scope.ErrIncompleteScope))
			Expect(scope.Scope{User: "u"}.Validate()).To(MatchError(scope.ErrIncompleteScope))
		})
	})

	Describe("Hash", func() {
		It("differs when any field differs", func() {
			base := scope.Scope{Tenant: "t", User: "u", Project: "p"}
			Expect(base.Hash()).To(Equal(base.Hash()))
			Expect(base.Hash()).NotTo(Equal(scope.Scope{Tenant: "t", User: "u"}.Hash()))
			Expect(base.Hash()).NotTo(Equal(scope.Scope{Tenant: "t", User: "u", Project: "q"}.Hash()))
		})

		It("does not collide on concatenation-ambiguous fields", func() {
			a := scope.Scope{Tenant: "ab", User: "c"}
			b := scope.Scope{Tenant: "a", User: "bc"}
			Expect(a.Hash()).NotTo(Equal(b.Hash()))
		})
	})

	Describe("Fingerprint", func() {
		s := scope.Scope{Tenant: "t1", User: "u1", Project: "p1"}

		It("is a pure function of scope and normalized content", func() {
			Expect(scope.Fingerprint(s, "The service uses PostgreSQL")).
				To(Equal(scope.Fingerprint(s, "The service uses PostgreSQL")))
		})

		It("normalizes whitespace and case", func() {
			Expect(scope.Fingerprint(s, "  The Service Uses PostgreSQL  ")).
				To(Equal(scope.Fingerprint(s, "the service uses postgresql")))
		})

		It("differs across scopes and contents", func() {
			other := scope.Scope{Tenant: "t2", User: "u1", Project: "p1"}
			Expect(scope.Fingerprint(s, "x")).NotTo(Equal(scope.Fingerprint(other, "x")))
			Expect(scope.Fingerprint(s, "x")).NotTo(Equal(scope.Fingerprint(s, "y")))
		})

		It("renders in UUID form for vector backends", func() {
			Expect(scope.Fingerprint(s, "x")).To(MatchRegexp(
				`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`))
		})
	})

	Describe("key layout", func() {
		It("prefixes every cache key with the scope", func() {
			Expect(scope.SearchKey("abcd", "q1")).To(Equal("mem:v1:abcd:search:q1"))
			Expect(scope.ContextKey("abcd", "q1")).To(Equal("mem:v1:abcd:context:q1"))
			Expect(scope.IDKey("abcd", "id1")).To(Equal("mem:v1:abcd:id:id1"))
		})

		It("builds order-insensitive resolve lock keys", func() {
			Expect(scope.ResolveLockKey("abcd", []string{"a", "b"})).
				To(Equal(scope.ResolveLockKey("abcd", []string{"b", "a"})))
			Expect(scope.ResolveLockKey("abcd", []string{"a", "b"})).
				NotTo(Equal(scope.ResolveLockKey("abcd", []string{"a", "c"})))
		})
	})
})
