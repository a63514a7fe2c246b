package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/logger"
)

func TestLogger(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Logger Suite")
}

var _ = Describe("Logger", func() {
	It("writes to the provided writers", func() {
		var buf bytes.Buffer
		log := logger.New(logger.WithWriters(&buf))

		log.Info("hello from test")
		log.Sync() //nolint:errcheck // buffer sync

		Expect(buf.String()).To(ContainSubstring("hello from test"))
	})

	It("suppresses debug output unless enabled", func() {
		var quiet, chatty bytes.Buffer

		logger.New(logger.WithDebug(false), logger.WithWriters(&quiet)).Debug("hidden")
		logger.New(logger.WithDebug(true), logger.WithWriters(&chatty)).Debug("visible")

		Expect(quiet.String()).To(BeEmpty())
		Expect(chatty.String()).To(ContainSubstring("visible"))
	})

	It("emits parseable JSON when configured for shipping", func() {
		var buf bytes.Buffer
		log := logger.New(logger.WithJSON(true), logger.WithWriters(&buf))

		log.Info("structured entry")
		log.Sync() //nolint:errcheck // buffer sync

		var entry map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &entry)).To(Succeed())
		Expect(entry["msg"]).To(Equal("structured entry"))
		Expect(entry).To(HaveKey("time"))
	})

	Describe("Pretty", func() {
		It("produces a usable slog logger", func() {
			var buf bytes.Buffer
			log := logger.Pretty(false, &buf)

			log.Info("status check", "target", "localhost")

			Expect(buf.String()).To(ContainSubstring("status check"))
		})
	})
})
