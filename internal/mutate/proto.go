// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mutate

import "strings"

// ProtoType distinguishes printable/text-oriented protocols from binary
// ones; the obfuscation strategy is only valid for text protocols
// (spec.md §4.5), and it selects the renderer's padding alphabet.
type ProtoType int

const (
	ProtoText ProtoType = iota
	ProtoBinary
)

// Proto describes one application-protocol hint a rule's service option
// may name.
type Proto struct {
	Name string
	Type ProtoType
}

var knownProtos = map[string]Proto{
	"http":   {Name: "http", Type: ProtoText},
	"sip":    {Name: "sip", Type: ProtoText},
	"ftp":    {Name: "ftp", Type: ProtoText},
	"imap":   {Name: "imap", Type: ProtoText},
	"pop":    {Name: "pop", Type: ProtoText},
	"dns":    {Name: "dns", Type: ProtoBinary},
	"telnet": {Name: "telnet", Type: ProtoBinary},
}

// LookupProto returns the named protocol's descriptor. Unknown protocol
// names default to text, matching the grammar registry's own fallback
// (unrecognized protocols use the plain pkt_data template).
func LookupProto(name string) Proto {
	if p, ok := knownProtos[strings.ToLower(name)]; ok {
		return p
	}
	return Proto{Name: strings.ToLower(name), Type: ProtoText}
}
