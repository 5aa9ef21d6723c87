// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package template

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackRequestContainsBufferResponseEmpty(t *testing.T) {
	reg := NewRegistry()
	tmpl := reg.Lookup("ftp") // unregistered protocol -> fallback
	p := tmpl.Populate(map[string][]byte{"pkt_data": []byte("authorized_keys")})

	req := p.Generate(Request)
	resp := p.Generate(Response)

	assert.Contains(t, string(req), "authorized_keys")
	assert.Empty(t, resp)
}

func TestHTTPResponseStartsWithStatusLine(t *testing.T) {
	reg := NewRegistry()
	tmpl := reg.Lookup("http")
	p := tmpl.Populate(map[string][]byte{
		"http_client_body": []byte("/msadc/msadc.dll"),
		"file_data":        []byte("news_id=xyz"),
	})

	resp := string(p.Generate(Response))
	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"), "got %q", resp)
	assert.Contains(t, resp, "Content-Length: ")

	headerEnd := strings.Index(resp, "\r\n\r\n")
	require.GreaterOrEqual(t, headerEnd, 0)
	body := resp[headerEnd+4:]
	assert.Contains(t, body, "news_id=xyz")
}

func TestHTTPContentLengthMatchesBodyLength(t *testing.T) {
	reg := NewRegistry()
	tmpl := reg.Lookup("http")
	p := tmpl.Populate(map[string][]byte{"http_client_body": []byte("0123456789")})

	req := string(p.Generate(Request))
	assert.Contains(t, req, "Content-Length: 10\r\n")
}

func TestUnmatchedBufferAppearsOnBothSidesBody(t *testing.T) {
	reg := NewRegistry()
	tmpl := reg.Lookup("http")
	// "file_data" has no named field in the HTTP template, so it lands on
	// the trailing body field of both the request and the response.
	p := tmpl.Populate(map[string][]byte{"file_data": []byte("PAYLOAD")})

	req := string(p.Generate(Request))
	resp := string(p.Generate(Response))
	assert.Contains(t, req, "PAYLOAD")
	assert.Contains(t, resp, "PAYLOAD")
}

func TestNamedBufferOverridesBothDirectionsWhenSharedFieldName(t *testing.T) {
	reg := NewRegistry()
	tmpl := reg.Lookup("http")
	p := tmpl.Populate(map[string][]byte{"http_version": []byte("HTTP/1.0")})

	assert.Contains(t, string(p.Generate(Request)), "HTTP/1.0")
	assert.Contains(t, string(p.Generate(Response)), "HTTP/1.0")
}

func TestSIPAppendsContentLengthAfterHeaders(t *testing.T) {
	reg := NewRegistry()
	tmpl := reg.Lookup("sip")
	p := tmpl.Populate(map[string][]byte{"sip_body": []byte("v=0\r\n")})

	req := string(p.Generate(Request))
	assert.Contains(t, req, "Content-Length: 5\r\n")
	assert.Contains(t, req, "v=0\r\n")
}

func TestUnknownProtocolFallsBackCaseInsensitive(t *testing.T) {
	reg := NewRegistry()
	assert.Same(t, reg.Lookup("ftp"), reg.Lookup("FTP"))
	assert.NotSame(t, reg.Lookup("HTTP"), reg.Lookup("unknown-protocol"))
}
