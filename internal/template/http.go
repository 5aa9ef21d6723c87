// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package template

import "fmt"

// newHTTP returns the HTTP/1.1 wire template: a minimal GET request and a
// 200 OK response, each with a Content-Length header, computed from the
// final body length, prepended to the header block (spec.md §4.4).
func newHTTP() *Template {
	return &Template{
		name: "http",
		requestDefaults: []field{
			{name: "http_method", data: []byte("GET")},
			{name: "http_space1", data: []byte(" ")},
			{name: "http_uri", data: []byte("/connecttest.txt")},
			{name: "http_space2", data: []byte(" ")},
			{name: "http_version", data: []byte("HTTP/1.1")},
			{name: "http_crlf1", data: []byte("\r\n")},
			{name: "http_header", data: []byte("Connection: Close\r\nUser-Agent: nidsfuzz\r\nHost: target\r\nContent-Type: text\r\n")},
			{name: "http_crlf2", data: []byte("\r\n")},
			{name: "http_client_body", data: nil},
		},
		responseDefaults: []field{
			{name: "http_version", data: []byte("HTTP/1.1")},
			{name: "http_space1", data: []byte(" ")},
			{name: "http_stat_code", data: []byte("200")},
			{name: "http_space2", data: []byte(" ")},
			{name: "http_stat_msg", data: []byte("OK")},
			{name: "http_crlf1", data: []byte("\r\n")},
			{name: "http_header", data: []byte("Connection: close\r\nContent-Type: text/plain\r\nCache-Control: max-age=30, must-revalidate\r\n")},
			{name: "http_crlf2", data: []byte("\r\n")},
			{name: "http_raw_body", data: nil},
		},
		finalize: finalizeHTTP,
	}
}

// finalizeHTTP prepends a Content-Length header computed from the final
// body, after first ensuring the header block itself ends with \r\n.
func finalizeHTTP(p *Populated) {
	prependContentLength(p.request, "http_header", "http_client_body")
	prependContentLength(p.response, "http_header", "http_raw_body")
}

func prependContentLength(fields []field, headerName, bodyName string) {
	hi := fieldByName(fields, headerName)
	bi := fieldByName(fields, bodyName)
	if hi < 0 || bi < 0 {
		return
	}
	ensureTrailingCRLF(fields, headerName)
	line := fmt.Sprintf("Content-Length: %d\r\n", len(fields[bi].data))
	fields[hi].data = append([]byte(line), fields[hi].data...)
}
