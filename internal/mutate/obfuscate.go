// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mutate

import (
	"bytes"
	"fmt"
	"math/rand"
)

// pathShiftingPatterns are the insertions tried around '/' (spec.md §4.3
// Obfuscation variant).
var pathShiftingPatterns = [][]byte{
	[]byte("//"),
	[]byte("/./"),
	[]byte("/~/../"),
}

// pathShift inserts up to n of pathShiftingPatterns for each '/' byte.
func pathShift(rng *rand.Rand, data []byte, times int) []byte {
	if times <= 0 {
		return data
	}
	var out []byte
	for _, b := range data {
		out = append(out, b)
		if b != '/' {
			continue
		}
		n := 1 + rng.Intn(times)
		for i := 0; i < n; i++ {
			out = append(out, pathShiftingPatterns[rng.Intn(len(pathShiftingPatterns))]...)
		}
	}
	return out
}

// urlEncodingTable maps a reserved, unsafe, control, or '~' byte to its
// percent-encoded form (RFC 3986 §2.2/§2.3).
var urlEncodingTable = buildURLEncodingTable()

func buildURLEncodingTable() map[byte]string {
	t := make(map[byte]string)
	reserved := []byte(":/?#[]@!$&'()*+,;=")
	unsafe := []byte(" \"<>\\^{}|%")
	for _, b := range reserved {
		t[b] = fmt.Sprintf("%%%02X", b)
	}
	for _, b := range unsafe {
		t[b] = fmt.Sprintf("%%%02X", b)
	}
	for b := 0; b < 32; b++ {
		t[byte(b)] = fmt.Sprintf("%%%02X", b)
	}
	t[127] = "%7F"
	t['~'] = "%7E"
	return t
}

// urlEncode replaces up to `times` positions holding an encodable byte with
// their percent-encoded form, chosen without replacement.
func urlEncode(rng *rand.Rand, data []byte, times int) []byte {
	if times <= 0 {
		return data
	}
	var positions []int
	for i, b := range data {
		if _, ok := urlEncodingTable[b]; ok {
			positions = append(positions, i)
		}
	}
	if len(positions) == 0 {
		return data
	}
	if times > len(positions) {
		times = len(positions)
	}
	rng.Shuffle(len(positions), func(i, j int) { positions[i], positions[j] = positions[j], positions[i] })
	chosen := make(map[int]bool, times)
	for _, p := range positions[:times] {
		chosen[p] = true
	}

	var out []byte
	for i, b := range data {
		if chosen[i] {
			out = append(out, urlEncodingTable[b]...)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// escapePipe re-escapes any literal '|' introduced by obfuscation so the
// byte stream still round-trips through the rule grammar's |hex| syntax if
// re-serialized (spec.md §4.3 Obfuscation variant).
func escapePipe(data []byte) []byte {
	if !bytes.ContainsRune(data, '|') {
		return data
	}
	return bytes.ReplaceAll(data, []byte("|"), []byte("|7C|"))
}

// obfuscateContentBytes applies path shifting then URL encoding, in that
// order (so encoding may consume bytes the shift inserted), then
// re-escapes literal '|'.
func obfuscateContentBytes(rng *rand.Rand, data []byte, insertTimes, replaceTimes int) []byte {
	shifted := pathShift(rng, data, insertTimes)
	encoded := urlEncode(rng, shifted, replaceTimes)
	return escapePipe(encoded)
}
