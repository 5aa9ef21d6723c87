// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package template

import "fmt"

// newSIP returns the SIP wire template: a minimal INVITE request and a 100
// Trying response, each with a trailing Content-Length header (spec.md
// §4.4). Unlike HTTP, SIP appends the header rather than prepending it,
// matching the reference implementation's per-protocol finalization order.
func newSIP() *Template {
	return &Template{
		name: "sip",
		requestDefaults: []field{
			{name: "sip_method", data: []byte("INVITE")},
			{name: "sip_space1", data: []byte(" ")},
			{name: "sip_uri", data: []byte("sip:target@nidsfuzz")},
			{name: "sip_space2", data: []byte(" ")},
			{name: "sip_version", data: []byte("SIP/2.0")},
			{name: "sip_crlf1", data: []byte("\r\n")},
			{name: "sip_header", data: []byte("Via: SIP/2.0/TCP nidsfuzz;branch=z9hG4bK1\r\nMax-Forwards: 70\r\nCSeq: 1 INVITE\r\n")},
			{name: "sip_crlf2", data: []byte("\r\n")},
			{name: "sip_body", data: nil},
		},
		responseDefaults: []field{
			{name: "sip_version", data: []byte("SIP/2.0")},
			{name: "sip_space1", data: []byte(" ")},
			{name: "sip_stat_code", data: []byte("100")},
			{name: "sip_space2", data: []byte(" ")},
			{name: "sip_stat_msg", data: []byte("Trying")},
			{name: "sip_crlf1", data: []byte("\r\n")},
			{name: "sip_header", data: []byte("Via: SIP/2.0/UDP nidsfuzz;branch=z9hG4bK1\r\nMax-Forwards: 70\r\nCSeq: 1 INVITE\r\n")},
			{name: "sip_crlf2", data: []byte("\r\n")},
			{name: "sip_body", data: nil},
		},
		finalize: finalizeSIP,
	}
}

func finalizeSIP(p *Populated) {
	appendContentLength(p.request, "sip_header", "sip_body")
	appendContentLength(p.response, "sip_header", "sip_body")
}

func appendContentLength(fields []field, headerName, bodyName string) {
	hi := fieldByName(fields, headerName)
	bi := fieldByName(fields, bodyName)
	if hi < 0 || bi < 0 {
		return
	}
	ensureTrailingCRLF(fields, headerName)
	line := fmt.Sprintf("Content-Length: %d\r\n", len(fields[bi].data))
	fields[hi].data = append(fields[hi].data, []byte(line)...)
}
