// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fuzzloop

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"grimm.is/nidsfuzz/internal/align"
	"grimm.is/nidsfuzz/internal/errors"
)

// packetSentinel terminates the bilateral packet sequence for one
// finding in packets.bin (spec.md §6).
var packetSentinel = [4]byte{0xFF, 0xFF, 0xFF, 0xFF}

// Store appends confirmed findings to discrepancies.txt and
// packets.bin under dir, matching Fuzzer.save's two-file format.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "create log directory %q", dir)
	}
	return &Store{dir: dir}, nil
}

// Save appends one finding's stanza to discrepancies.txt and its
// bilateral packet sequence to packets.bin.
func (s *Store) Save(finding align.Finding) error {
	if err := s.appendDiscrepancy(finding); err != nil {
		return err
	}
	return s.appendPackets(finding.Bundle.Bundle)
}

func (s *Store) appendDiscrepancy(finding align.Finding) error {
	f, err := os.OpenFile(filepath.Join(s.dir, "discrepancies.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "open discrepancies.txt")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fwriteLine(w, "seed rules: "+strings.Join(finding.Bundle.InputRules(), ", "))
	for platform, alerts := range finding.Bundle.Alerts {
		ids := make([]string, len(alerts))
		for i, a := range alerts {
			ids[i] = a.RuleID
		}
		fwriteLine(w, platform+": "+strings.Join(ids, ", "))
	}
	fwriteLine(w, "")
	return w.Flush()
}

func fwriteLine(w *bufio.Writer, line string) {
	w.WriteString(line)
	w.WriteByte('\n')
}

func (s *Store) appendPackets(bundle align.TestBundle) error {
	f, err := os.OpenFile(filepath.Join(s.dir, "packets.bin"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "open packets.bin")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var lenBuf [4]byte
	for i := range bundle.Requests {
		req, resp := bundle.Requests[i], bundle.Responses[i]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(req)))
		w.Write(lenBuf[:])
		w.Write(req)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(resp)))
		w.Write(lenBuf[:])
		w.Write(resp)
	}
	w.Write(packetSentinel[:])
	return w.Flush()
}

// DiscrepancyRecord is one parsed stanza from discrepancies.txt.
type DiscrepancyRecord struct {
	SeedRules      []string
	PlatformAlerts map[string][]string
}

// LoadDiscrepancies parses every stanza out of dir's discrepancies.txt,
// in file order (Fuzzer.load_discrepancies).
func LoadDiscrepancies(dir string) ([]DiscrepancyRecord, error) {
	f, err := os.Open(filepath.Join(dir, "discrepancies.txt"))
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "open discrepancies.txt")
	}
	defer f.Close()

	var records []DiscrepancyRecord
	var cur *DiscrepancyRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if cur != nil {
				records = append(records, *cur)
				cur = nil
			}
			continue
		}
		if cur == nil {
			rest, ok := strings.CutPrefix(line, "seed rules: ")
			if !ok {
				return nil, errors.Errorf(errors.KindParse, "malformed discrepancies.txt stanza start: %q", line)
			}
			cur = &DiscrepancyRecord{SeedRules: splitNonEmpty(rest), PlatformAlerts: make(map[string][]string)}
			continue
		}
		platform, alerts, ok := strings.Cut(line, ": ")
		if !ok {
			platform, alerts, ok = strings.Cut(line, ":")
		}
		if !ok {
			return nil, errors.Errorf(errors.KindParse, "malformed discrepancies.txt platform line: %q", line)
		}
		cur.PlatformAlerts[strings.TrimSpace(platform)] = splitNonEmpty(alerts)
	}
	if cur != nil {
		records = append(records, *cur)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, errors.KindParse, "scan discrepancies.txt")
	}
	return records, nil
}

func splitNonEmpty(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ", ")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// PacketRecord is one bilateral exchange sequence parsed from
// packets.bin, ending at its sentinel.
type PacketRecord struct {
	Requests  [][]byte
	Responses [][]byte
}

// LoadPackets parses every bundle out of dir's packets.bin, in file
// order (Fuzzer.load_packets).
func LoadPackets(dir string) ([]PacketRecord, error) {
	f, err := os.Open(filepath.Join(dir, "packets.bin"))
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "open packets.bin")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records []PacketRecord
	for {
		rec, eof, err := readPacketRecord(r)
		if err != nil {
			return nil, err
		}
		if eof {
			break
		}
		if len(rec.Requests) > 0 || len(rec.Responses) > 0 {
			records = append(records, rec)
		}
	}
	return records, nil
}

func readPacketRecord(r *bufio.Reader) (PacketRecord, bool, error) {
	var rec PacketRecord
	for {
		var lenBuf [4]byte
		_, err := io.ReadFull(r, lenBuf[:])
		if err == io.EOF {
			if len(rec.Requests) == 0 {
				return rec, true, nil
			}
			return rec, false, nil
		}
		if err != nil {
			return rec, false, errors.Wrapf(err, errors.KindParse, "read packets.bin length field")
		}
		if lenBuf == packetSentinel {
			return rec, false, nil
		}

		reqLen := binary.BigEndian.Uint32(lenBuf[:])
		req := make([]byte, reqLen)
		if _, err := io.ReadFull(r, req); err != nil {
			return rec, false, errors.Wrapf(err, errors.KindParse, "read packets.bin request body")
		}

		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return rec, false, errors.Wrapf(err, errors.KindParse, "read packets.bin response length field")
		}
		respLen := binary.BigEndian.Uint32(lenBuf[:])
		resp := make([]byte, respLen)
		if _, err := io.ReadFull(r, resp); err != nil {
			return rec, false, errors.Wrapf(err, errors.KindParse, "read packets.bin response body")
		}

		rec.Requests = append(rec.Requests, req)
		rec.Responses = append(rec.Responses, resp)
	}
}
