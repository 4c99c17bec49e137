package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andromeda-rt/andromeda/pkg/crypto"
	"github.com/andromeda-rt/andromeda/pkg/urlutil"
)

type stubTransport struct {
	resp *Response
	err error
}

func (s *stubTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	return s.resp, s.err
}

func mustParse(t *testing.T, raw string) *urlutil.URL {
	t.Helper()
	u, err := urlutil.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestFetchMixedContentBlocked(t *testing.T) {
	req := &Request{
		Method: "GET",
		URL: mustParse(t, "http://api.test/data"),
		ClientOrigin: mustParse(t, "https://app.test/"),
		Mode: ModeCors,
	}
	_, err := Fetch(context.Background(), req, &stubTransport{})
	assert.Error(t, err)
}

func TestFetchFileSchemeAllowedFromHTTPSClient(t *testing.T) {
	req := &Request{
		Method: "GET",
		URL: mustParse(t, "file:///x"),
		ClientOrigin: mustParse(t, "https://app.test/"),
		Origin: mustParse(t, "https://app.test/"),
		Mode: ModeSameOrigin,
	}
	resp := &Response{Status: 200, URL: req.URL, Headers: nil}
	out, err := Fetch(context.Background(), req, &stubTransport{resp: resp})
	require.NoError(t, err)
	assert.True(t, out.Ok)
}

func TestFetchSRIPass(t *testing.T) {
	body := []byte("console.log(1)")
	digest, err := crypto.Digest(crypto.SHA256, body)
	require.NoError(t, err)
	integrity := EncodeIntegrity(crypto.SHA256, digest)

	req := &Request{
		Method: "GET",
		URL: mustParse(t, "https://cdn.test/script.js"),
		ClientOrigin: mustParse(t, "https://app.test/"),
		Origin: mustParse(t, "https://app.test/"),
		Mode: ModeNoCors,
		Integrity: integrity,
	}
	resp := &Response{Status: 200, URL: req.URL, Body: body}
	out, err := Fetch(context.Background(), req, &stubTransport{resp: resp})
	require.NoError(t, err)
	assert.True(t, out.Ok)
}

func TestFetchSRIFail(t *testing.T) {
	body := []byte("console.log(1)")
	wrongDigest, _ := crypto.Digest(crypto.SHA256, []byte("tampered"))
	integrity := EncodeIntegrity(crypto.SHA256, wrongDigest)

	req := &Request{
		Method: "GET",
		URL: mustParse(t, "https://cdn.test/script.js"),
		ClientOrigin: mustParse(t, "https://app.test/"),
		Origin: mustParse(t, "https://app.test/"),
		Mode: ModeNoCors,
		Integrity: integrity,
	}
	resp := &Response{Status: 200, URL: req.URL, Body: body}
	_, err := Fetch(context.Background(), req, &stubTransport{resp: resp})
	assert.Error(t, err)
}

func TestCheckCORPSameSiteBlocksDifferentSite(t *testing.T) {
	req := &Request{
		Origin: mustParse(t, "https://app.test/"),
	}
	resp := &Response{
		URL: mustParse(t, "https://other.example/"),
		Headers: []Header{{Name: "Cross-Origin-Resource-Policy", Value: "same-site"}},
	}
	assert.True(t, checkCORP(req, resp))
}

func TestCheckCORSRejectsWildcardWithCredentials(t *testing.T) {
	req := &Request{
		Origin: mustParse(t, "https://app.test/"),
		CredentialsMode: "include",
	}
	resp := &Response{
		Headers: []Header{{Name: "Access-Control-Allow-Origin", Value: "*"}},
	}
	err := checkCORS(req, resp)
	assert.Error(t, err)
}

func TestNeedsPreflightForCustomHeader(t *testing.T) {
	req := &Request{
		Method: "GET",
		Headers: []Header{{Name: "X-Custom", Value: "1"}},
	}
	assert.True(t, NeedsPreflight(req))
}

func TestNeedsPreflightFalseForSimpleRequest(t *testing.T) {
	req := &Request{
		Method: "POST",
		Headers: []Header{{Name: "Content-Type", Value: "text/plain"}},
	}
	assert.False(t, NeedsPreflight(req))
}

func TestVerifyIntegrityEmptyMetadataAlwaysPasses(t *testing.T) {
	ok, err := VerifyIntegrity("", []byte("anything"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyIntegrityPicksStrongestAlgorithm(t *testing.T) {
	body := []byte("payload")
	weakWrong, _ := crypto.Digest(crypto.SHA256, []byte("wrong"))
	strongRight, _ := crypto.Digest(crypto.SHA384, body)
	integrity := EncodeIntegrity(crypto.SHA256, weakWrong) + " " + EncodeIntegrity(crypto.SHA384, strongRight)

	ok, err := VerifyIntegrity(integrity, body)
	require.NoError(t, err)
	assert.True(t, ok)
}
