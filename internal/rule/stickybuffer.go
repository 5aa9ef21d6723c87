// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rule

// StickyBuffer names a byte canvas that subsequent payload options target
// until the next sticky-buffer directive in the rule body. The full
// enumeration mirrors the declared grammar's set of named buffers.
type StickyBuffer int

const (
	// PktData is the default sticky buffer: the raw packet payload.
	PktData StickyBuffer = iota
	FileData
	HTTPURI
	HTTPHeader
	HTTPCookie
	HTTPClientBody
	HTTPRawBody
	HTTPMethod
	HTTPVersion
	HTTPStatCode
	HTTPStatMsg
	SIPHeader
	SIPBody
)

var stickyBufferNames = map[StickyBuffer]string{
	PktData:        "pkt_data",
	FileData:       "file_data",
	HTTPURI:        "http_uri",
	HTTPHeader:     "http_header",
	HTTPCookie:     "http_cookie",
	HTTPClientBody: "http_client_body",
	HTTPRawBody:    "http_raw_body",
	HTTPMethod:     "http_method",
	HTTPVersion:    "http_version",
	HTTPStatCode:   "http_stat_code",
	HTTPStatMsg:    "http_stat_msg",
	SIPHeader:      "sip_header",
	SIPBody:        "sip_body",
}

// stickyBufferKeywords maps the rule-option keyword spelling (as it appears
// in a rule body, e.g. "http_uri;") to the StickyBuffer it selects.
var stickyBufferKeywords = map[string]StickyBuffer{
	"pkt_data":         PktData,
	"file_data":        FileData,
	"http_uri":         HTTPURI,
	"http_header":      HTTPHeader,
	"http_cookie":      HTTPCookie,
	"http_client_body": HTTPClientBody,
	"http_raw_body":    HTTPRawBody,
	"http_method":      HTTPMethod,
	"http_version":     HTTPVersion,
	"http_stat_code":   HTTPStatCode,
	"http_stat_msg":    HTTPStatMsg,
	"sip_header":       SIPHeader,
	"sip_body":         SIPBody,
}

// String returns the rule-grammar spelling of the sticky buffer.
func (b StickyBuffer) String() string {
	if n, ok := stickyBufferNames[b]; ok {
		return n
	}
	return "pkt_data"
}

// LookupStickyBuffer returns the StickyBuffer for a rule-option keyword, and
// whether that keyword names a sticky buffer at all.
func LookupStickyBuffer(keyword string) (StickyBuffer, bool) {
	b, ok := stickyBufferKeywords[keyword]
	return b, ok
}
