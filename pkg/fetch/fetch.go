// Package fetch implements the client fetch algorithm: scheme dispatch,
// mixed-content, Cross-Origin-Resource-Policy, CORS, Subresource
// Integrity, and redirect handling. The underlying transport is
// abstracted behind RoundTripper so the algorithm is testable without a
// real network; HTTPTransport, built on net/http, is the implementation
// used in production.
package fetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/andromeda-rt/andromeda/internal/errs"
	"github.com/andromeda-rt/andromeda/pkg/crypto"
	"github.com/andromeda-rt/andromeda/pkg/urlutil"
)

// Mode is the request mode (cors/no-cors/same-origin/navigate).
type Mode string

const (
	ModeCors Mode = "cors"
	ModeNoCors Mode = "no-cors"
	ModeSameOrigin Mode = "same-origin"
	ModeNavigate Mode = "navigate"
)

// RedirectMode controls how the algorithm handles 3xx responses.
type RedirectMode string

const (
	RedirectFollow RedirectMode = "follow"
	RedirectError RedirectMode = "error"
	RedirectManual RedirectMode = "manual"
)

// EmbedderPolicy is the requesting document's Cross-Origin-Embedder-Policy,
// used by the CORP check.
type EmbedderPolicy string

const (
	EmbedderUnsafeNone EmbedderPolicy = "unsafe-none"
	EmbedderCredentialless EmbedderPolicy = "credentialless"
	EmbedderRequireCorp EmbedderPolicy = "require-corp"
)

// Header is one (name, value) pair; header lists preserve order and
// repeats.
type Header struct{ Name, Value string }

// Request is an in-flight fetch's request context.
type Request struct {
	Method string
	URL *urlutil.URL
	Headers []Header
	Body []byte
	Mode Mode
	CredentialsMode string // "omit" | "same-origin" | "include"
	Redirect RedirectMode
	Integrity string
	Origin *urlutil.URL
	ClientOrigin *urlutil.URL
	Destination string
	EmbedderPolicy EmbedderPolicy
	RedirectCount int
}

// Response is a fetch's resolved response context.
type Response struct {
	Status int
	StatusText string
	Headers []Header
	Body []byte
	Type string // basic | cors | opaque | opaqueredirect | error | default
	URL *urlutil.URL
	Redirected bool
	Ok bool
}

func headerValue(headers []Header, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// RoundTripper performs one transport-level HTTP exchange; HTTPTransport
// and test doubles implement it.
type RoundTripper interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

var supportedSchemes = map[string]bool{
	"http": true, "https": true, "data": true, "blob": true, "file": true, "about": true,
}

// errorResponse builds a network-error response (Type "error", Status 0).
// No path in this package returns it: Fetch reports scheme rejection,
// mixed-content blocks, and similar failures as errors.
func errorResponse() *Response { return &Response{Type: "error", Status: 0} }

// Fetch runs the fetch algorithm against req using transport for the
// network step(s), implementing its six numbered steps plus
// redirect handling capped at 20 hops.
func Fetch(ctx context.Context, req *Request, transport RoundTripper) (*Response, error) {
	if !supportedSchemes[req.URL.Scheme()] {
		return nil, errs.New(errs.ProtocolError, "unsupported scheme: "+req.URL.Scheme())
	}

	if blocked := checkMixedContent(req); blocked {
		return nil, errs.New(errs.MixedContentBlocked, "mixed content blocked: "+req.URL.String())
	}

	resp, err := fetchWithRedirects(ctx, req, transport, 0)
	if err != nil {
		return nil, err
	}

	if resp.Type != "opaqueredirect" {
		if blocked := checkCORP(req, resp); blocked {
			return nil, errs.New(errs.CorsFailure, "blocked by Cross-Origin-Resource-Policy")
		}
		if req.Mode == ModeCors {
			if err := checkCORS(req, resp); err != nil {
				return nil, err
			}
			resp.Type = "cors"
		} else if req.Origin != nil && req.Origin.GetOrigin() == resp.URL.GetOrigin() {
			resp.Type = "basic"
		}
	}

	if req.Integrity != "" && resp.Type != "opaque" && resp.Type != "opaqueredirect" {
		ok, err := VerifyIntegrity(req.Integrity, resp.Body)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.New(errs.IntegrityFailure, "subresource integrity check failed")
		}
	} else if req.Integrity != "" {
		return nil, errs.New(errs.IntegrityFailure, "integrity set but response type is opaque")
	}

	resp.Ok = resp.Status >= 200 && resp.Status < 300
	return resp, nil
}

const maxRedirects = 20

func fetchWithRedirects(ctx context.Context, req *Request, transport RoundTripper, hop int) (*Response, error) {
	if hop > maxRedirects {
		return nil, errs.New(errs.Network, "too many redirects")
	}
	resp, err := transport.RoundTrip(ctx, req)
	if err != nil {
		return nil, errs.Wrap(errs.Network, "round trip failed", err)
	}

	if !isRedirectStatus(resp.Status) {
		return resp, nil
	}

	switch req.Redirect {
	case RedirectError:
		return nil, errs.New(errs.Network, "redirect encountered with redirect=error")
	case RedirectManual:
		return &Response{Type: "opaqueredirect", Status: 0, URL: resp.URL}, nil
	case RedirectFollow:
		location, ok := headerValue(resp.Headers, "Location")
		if !ok {
			return resp, nil
		}
		nextURL, err := urlutil.ParseRelative(location, resp.URL)
		if err != nil {
			return nil, errs.Wrap(errs.ProtocolError, "invalid redirect Location", err)
		}
		next := *req
		next.URL = nextURL
		next.RedirectCount = hop + 1
		out, err := fetchWithRedirects(ctx, &next, transport, hop+1)
		if out != nil {
			out.Redirected = true
		}
		return out, err
	default:
		return resp, nil
	}
}

func isRedirectStatus(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	default:
		return false
	}
}

// checkMixedContent implements the step 2.
func checkMixedContent(req *Request) bool {
	if req.ClientOrigin == nil {
		return false
	}
	if !req.ClientOrigin.ProhibitsMixedSecurityContexts() {
		return false
	}
	if req.URL.IsAPrioriAuthenticated() {
		return false
	}
	if req.Destination == "document" && req.Mode == ModeNavigate {
		return false
	}
	return true
}

// checkCORP implements the step 3.
func checkCORP(req *Request, resp *Response) bool {
	policy, ok := headerValue(resp.Headers, "Cross-Origin-Resource-Policy")
	if !ok {
		return req.EmbedderPolicy == EmbedderRequireCorp && !sameOrigin(req, resp)
	}
	switch strings.ToLower(policy) {
	case "cross-origin":
		return false
	case "same-site":
		if req.Origin == nil {
			return true
		}
		if !urlutil.SameRegistrableDomain(req.Origin, resp.URL) {
			return true
		}
		return httpsGuardBlocks(req, resp)
	case "same-origin":
		return !sameOrigin(req, resp)
	default:
		return false
	}
}

// httpsGuardBlocks implements the same-site CORP rule's extra guard: an
// HTTP response may be accepted by any origin, but an HTTPS response
// requires an HTTPS origin.
func httpsGuardBlocks(req *Request, resp *Response) bool {
	if resp.URL.Scheme() != "https" {
		return false
	}
	return req.Origin == nil || req.Origin.Scheme() != "https"
}

func sameOrigin(req *Request, resp *Response) bool {
	if req.Origin == nil {
		return false
	}
	return req.Origin.GetOrigin() == resp.URL.GetOrigin()
}

var methodSafelist = map[string]bool{"GET": true, "HEAD": true, "POST": true}

var headerSafelist = map[string]bool{
	"accept": true, "accept-language": true, "content-language": true,
}

var safeContentTypes = map[string]bool{
	"application/x-www-form-urlencoded": true,
	"multipart/form-data": true,
	"text/plain": true,
}

// NeedsPreflight reports whether req's method/headers require a CORS
// preflight request.
func NeedsPreflight(req *Request) bool {
	if !methodSafelist[strings.ToUpper(req.Method)] {
		return true
	}
	for _, h := range req.Headers {
		name := strings.ToLower(h.Name)
		if name == "authorization" {
			return true
		}
		if headerSafelist[name] {
			continue
		}
		if name == "content-type" {
			mediaType := strings.ToLower(strings.SplitN(h.Value, ";", 2)[0])
			mediaType = strings.TrimSpace(mediaType)
			if safeContentTypes[mediaType] && len(h.Value) <= 128 {
				continue
			}
			return true
		}
		return true
	}
	return false
}

// BuildPreflightRequest constructs the OPTIONS preflight for req.
func BuildPreflightRequest(req *Request) *Request {
	headers := []Header{{Name: "Access-Control-Request-Method", Value: req.Method}}
	var reqHeaders []string
	for _, h := range req.Headers {
		name := strings.ToLower(h.Name)
		if name != "content-type" && !headerSafelist[name] {
			reqHeaders = append(reqHeaders, name)
		}
	}
	if len(reqHeaders) > 0 {
		headers = append(headers, Header{Name: "Access-Control-Request-Headers", Value: strings.Join(reqHeaders, ", ")})
	}
	return &Request{
		Method: "OPTIONS",
		URL: req.URL,
		Headers: headers,
		Origin: req.Origin,
		Mode: ModeCors,
	}
}

// checkCORS implements the step 4's response-side check.
func checkCORS(req *Request, resp *Response) error {
	allowOrigin, hasAllowOrigin := headerValue(resp.Headers, "Access-Control-Allow-Origin")
	includeCredentials := req.CredentialsMode == "include"

	if !hasAllowOrigin {
		return errs.New(errs.CorsFailure, "missing Access-Control-Allow-Origin")
	}
	if includeCredentials {
		if allowOrigin == "*" {
			return errs.New(errs.CorsFailure, "wildcard Access-Control-Allow-Origin not allowed with credentials")
		}
		if req.Origin == nil || allowOrigin != req.Origin.GetOrigin() {
			return errs.New(errs.CorsFailure, "Access-Control-Allow-Origin does not match request origin")
		}
		allowCreds, _ := headerValue(resp.Headers, "Access-Control-Allow-Credentials")
		if strings.ToLower(allowCreds) != "true" {
			return errs.New(errs.CorsFailure, "missing Access-Control-Allow-Credentials: true")
		}
		return nil
	}
	if allowOrigin == "*" {
		return nil
	}
	if req.Origin != nil && allowOrigin == req.Origin.GetOrigin() {
		return nil
	}
	return errs.New(errs.CorsFailure, "Access-Control-Allow-Origin does not permit this origin")
}

// IntegrityMetadata is one {algorithm, digest} entry parsed from an
// `integrity` attribute value.
type IntegrityMetadata struct {
	Algorithm crypto.DigestAlgorithm
	Digest []byte // decoded from base64
}

var algorithmStrength = map[crypto.DigestAlgorithm]int{
	crypto.SHA256: 1,
	crypto.SHA384: 2,
	crypto.SHA512: 3,
}

// ParseIntegrity parses one or more "alg-base64digest" entries separated
// by whitespace.
func ParseIntegrity(value string) ([]IntegrityMetadata, error) {
	var out []IntegrityMetadata
	for _, tok := range strings.Fields(value) {
		parts := strings.SplitN(tok, "-", 2)
		if len(parts) != 2 {
			continue // malformed entries are ignored, not fatal, per SRI
		}
		var alg crypto.DigestAlgorithm
		switch parts[0] {
		case "sha256":
			alg = crypto.SHA256
		case "sha384":
			alg = crypto.SHA384
		case "sha512":
			alg = crypto.SHA512
		default:
			continue
		}
		digestB64 := strings.SplitN(parts[1], "?", 2)[0]
		digest, err := base64.StdEncoding.DecodeString(digestB64)
		if err != nil {
			continue
		}
		out = append(out, IntegrityMetadata{Algorithm: alg, Digest: digest})
	}
	return out, nil
}

// VerifyIntegrity implements Subresource Integrity verification: true iff
// any metadata entry of the strongest present algorithm matches the
// canonical base64 digest of body; an empty or unparsable metadata list
// always returns true.
func VerifyIntegrity(integrityAttr string, body []byte) (bool, error) {
	metadata, err := ParseIntegrity(integrityAttr)
	if err != nil {
		return false, err
	}
	if len(metadata) == 0 {
		return true, nil
	}

	strongest := 0
	for _, m := range metadata {
		if s := algorithmStrength[m.Algorithm]; s > strongest {
			strongest = s
		}
	}

	for _, m := range metadata {
		if algorithmStrength[m.Algorithm] != strongest {
			continue
		}
		actual, err := crypto.Digest(m.Algorithm, body)
		if err != nil {
			return false, err
		}
		if constantTimeEqual(actual, m.Digest) {
			return true, nil
		}
	}
	return false, nil
}

// HTTPTransport is the production RoundTripper: http/https go over an
// *http.Client, and data:/file:/about: are resolved locally without a
// network round trip.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport builds an HTTPTransport with timeout as the client's
// overall request deadline (0 disables it, matching http.Client's zero
// value).
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{Client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	switch req.URL.Scheme() {
	case "http", "https":
		return t.roundTripHTTP(ctx, req)
	case "data":
		return roundTripData(req)
	case "file":
		return roundTripFile(req)
	case "about":
		return roundTripAbout(req)
	default:
		return nil, errs.New(errs.ProtocolError, "HTTPTransport cannot handle scheme: "+req.URL.Scheme())
	}
}

func (t *HTTPTransport) roundTripHTTP(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, errs.Wrap(errs.Network, "building request", err)
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Name, h.Value)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.Network, "round trip failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Network, "reading response body", err)
	}

	respURL, err := urlutil.Parse(resp.Request.URL.String())
	if err != nil {
		respURL = req.URL
	}

	var headers []Header
	for name, values := range resp.Header {
		for _, v := range values {
			headers = append(headers, Header{Name: name, Value: v})
		}
	}

	return &Response{
		Status: resp.StatusCode,
		StatusText: resp.Status,
		Headers: headers,
		Body: body,
		URL: respURL,
	}, nil
}

// roundTripData decodes a data: URL inline, per RFC 2397: no network
// access, no redirect handling, response status is always 200.
func roundTripData(req *Request) (*Response, error) {
	raw := req.URL.String()
	const prefix = "data:"
	if !strings.HasPrefix(raw, prefix) {
		return nil, errs.New(errs.ProtocolError, "malformed data URL")
	}
	rest := raw[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, errs.New(errs.ProtocolError, "malformed data URL: missing comma")
	}
	meta, payload := rest[:comma], rest[comma+1:]

	mediaType := "text/plain;charset=US-ASCII"
	base64Encoded := strings.HasSuffix(meta, ";base64")
	if base64Encoded {
		meta = strings.TrimSuffix(meta, ";base64")
	}
	if meta != "" {
		mediaType = meta
	}

	var body []byte
	var err error
	if base64Encoded {
		body, err = base64.StdEncoding.DecodeString(payload)
	} else {
		decoded, unescapeErr := url.QueryUnescape(payload)
		body, err = []byte(decoded), unescapeErr
	}
	if err != nil {
		return nil, errs.Wrap(errs.ProtocolError, "decoding data URL payload", err)
	}

	return &Response{
		Status: 200,
		StatusText: "OK",
		Headers: []Header{{Name: "Content-Type", Value: mediaType}},
		Body: body,
		URL: req.URL,
	}, nil
}

// roundTripFile reads a local file:// URL's path directly off disk.
func roundTripFile(req *Request) (*Response, error) {
	path := req.URL.GetPathname()
	body, err := os.ReadFile(path)
	if err != nil {
		return &Response{Status: 404, StatusText: "Not Found", URL: req.URL}, nil
	}
	return &Response{Status: 200, StatusText: "OK", Body: body, URL: req.URL}, nil
}

// roundTripAbout resolves the handful of about: URLs the host surface
// recognizes; anything else resolves to about:blank's empty document.
func roundTripAbout(req *Request) (*Response, error) {
	if req.URL.String() == "about:blank" {
		return &Response{Status: 200, StatusText: "OK", Headers: []Header{{Name: "Content-Type", Value: "text/html"}}, URL: req.URL}, nil
	}
	return &Response{Status: 200, StatusText: "OK", Headers: []Header{{Name: "Content-Type", Value: "text/html"}}, Body: []byte(""), URL: req.URL}, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// EncodeIntegrity renders alg and digest as a canonical "alg-base64digest"
// entry, always using standard base64 padding.
func EncodeIntegrity(alg crypto.DigestAlgorithm, digest []byte) string {
	name := map[crypto.DigestAlgorithm]string{
		crypto.SHA256: "sha256", crypto.SHA384: "sha384", crypto.SHA512: "sha512",
	}[alg]
	return fmt.Sprintf("%s-%s", name, base64.StdEncoding.EncodeToString(digest))
}
