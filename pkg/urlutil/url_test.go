package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccessors(t *testing.T) {
	u, err := Parse("https://example.test:8443/a/b?x=1#frag")
	require.NoError(t, err)
	assert.Equal(t, "https:", u.GetProtocol())
	assert.Equal(t, "example.test:8443", u.GetHost())
	assert.Equal(t, "example.test", u.GetHostname())
	assert.Equal(t, "8443", u.GetPort())
	assert.Equal(t, "/a/b", u.GetPathname())
	assert.Equal(t, "?x=1", u.GetSearch())
	assert.Equal(t, "#frag", u.GetHash())
	assert.Equal(t, "https://example.test:8443", u.GetOrigin())
}

func TestParseRelative(t *testing.T) {
	base, err := Parse("https://example.test/a/b/")
	require.NoError(t, err)
	rel, err := ParseRelative("../c", base)
	require.NoError(t, err)
	assert.Equal(t, "/a/c", rel.GetPathname())
}

func TestParseRejectsRelativeAsAbsolute(t *testing.T) {
	_, err := Parse("/just/a/path")
	assert.Error(t, err)
}

func TestOpaqueOriginForFileScheme(t *testing.T) {
	u, err := Parse("file:///x")
	require.NoError(t, err)
	assert.Equal(t, "null", u.GetOrigin())
}

func TestAPrioriAuthenticatedSchemes(t *testing.T) {
	https, _ := Parse("https://example.test/")
	http_, _ := Parse("http://example.test/")
	file_, _ := Parse("file:///x")

	assert.True(t, https.IsAPrioriAuthenticated())
	assert.False(t, http_.IsAPrioriAuthenticated())
	assert.True(t, file_.IsAPrioriAuthenticated())
}

func TestProhibitsMixedSecurityContexts(t *testing.T) {
	app, _ := Parse("https://app.test/")
	fileOrigin, _ := Parse("file:///x")
	assert.True(t, app.ProhibitsMixedSecurityContexts())
	assert.False(t, fileOrigin.ProhibitsMixedSecurityContexts())
}

func TestSameRegistrableDomain(t *testing.T) {
	a, _ := Parse("https://foo.example.com/")
	b, _ := Parse("https://bar.example.com/")
	c, _ := Parse("https://example.org/")

	assert.True(t, SameRegistrableDomain(a, b))
	assert.False(t, SameRegistrableDomain(a, c))
}

func TestIDNANormalization(t *testing.T) {
	u, err := Parse("https://xn--caf-dma.test/")
	require.NoError(t, err)
	assert.Equal(t, "xn--caf-dma.test", u.GetHostname())
}
