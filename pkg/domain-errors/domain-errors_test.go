package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the domain error primitives.
//
// Justification: these are core error primitives used at every trust boundary.
// Unit tests ensure invariants like "wrapped domain errors preserve original code"
// and "errors.Is matches by code" are maintained.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeNotFound, Message: "privacy notice not found"}
		s.Equal("privacy notice not found", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeUpstream}
		s.Equal("upstream_failure", err.Error())
	})
}

func (s *DomainErrorsSuite) TestWrapPreservesCode() {
	inner := New(CodeNotFound, "consent not found")
	wrapped := Wrap(inner, CodeInternal, "could not revoke consent")

	s.True(HasCode(wrapped, CodeNotFound), "wrapping must preserve the original domain code")
	s.Equal("could not revoke consent", wrapped.Error())
}

func (s *DomainErrorsSuite) TestWrapForeignError() {
	inner := fmt.Errorf("connection refused")
	wrapped := Wrap(inner, CodeUpstream, "connector unreachable")

	s.True(HasCode(wrapped, CodeUpstream))
	s.True(errors.Is(wrapped, inner), "wrapped cause must remain reachable via errors.Is")
}

func (s *DomainErrorsSuite) TestIsMatchesByCode() {
	err := New(CodeInvalidConsent, "consent revoked")
	s.True(errors.Is(err, &Error{Code: CodeInvalidConsent}))
	s.False(errors.Is(err, &Error{Code: CodeForbidden}))
}

func (s *DomainErrorsSuite) TestHasCodeOnPlainError() {
	s.False(HasCode(errors.New("plain"), CodeInternal))
}
