package sanitize_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agentsup.dev/supervisor/internal/sanitize"
)

func TestSanitize(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Sanitize Suite")
}

var _ = Describe("Output", func() {
	It("leaves plain content untouched", func() {
		cleaned, n := sanitize.Output("nothing to see here")
		Expect(cleaned).To(Equal("nothing to see here"))
		Expect(n).To(Equal(0))
	})

	It("strips a single tracking-chunk anchor", func() {
		cleaned, n := sanitize.Output("[[plan@2026-07-30T12:34:56.789012345Z]]the actual summary")
		Expect(cleaned).To(Equal("the actual summary"))
		Expect(n).To(Equal(1))
	})

	It("strips multiple anchors across a longer response", func() {
		input := "[[plan@2026-07-30T12:00:00.000000000Z]]first part " +
			"[[tracking@2026-07-30T13:00:00.000000000Z]]second part"
		cleaned, n := sanitize.Output(input)
		Expect(cleaned).To(Equal("first part second part"))
		Expect(n).To(Equal(2))
	})

	It("does not strip a malformed anchor missing the timestamp suffix", func() {
		cleaned, n := sanitize.Output("[[plan@notatimestamp]]body")
		Expect(cleaned).To(Equal("[[plan@notatimestamp]]body"))
		Expect(n).To(Equal(0))
	})
})
