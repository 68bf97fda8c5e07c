// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/Query-farm/tickq/tickq"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// CannedResponse is a complete socket response: the report line, the
// result lines and the runtime trailer.
func CannedResponse(requestID string, layout []tickq.AliasFields, lines []string, sep string) []byte {
	fields := make(map[string][][2]string, len(layout))
	for _, af := range layout {
		for _, f := range af.Fields {
			fields[af.Alias] = append(fields[af.Alias], [2]string{f.Name, tickq.FormatDType(f.Type, f.Width)})
		}
	}
	report, _ := json.Marshal(map[string]any{
		tickq.KeyRequestID:     requestID,
		tickq.KeyInputRecords:  len(lines),
		tickq.KeyOutputRecords: len(lines),
		tickq.KeyErrorSummary:  []any{},
	})
	// result_fields keeps alias order, which a Go map does not.
	var rf bytes.Buffer
	rf.WriteByte('{')
	for i, af := range layout {
		if i > 0 {
			rf.WriteByte(',')
		}
		name, _ := json.Marshal(af.Alias)
		list, _ := json.Marshal(fields[af.Alias])
		fmt.Fprintf(&rf, "%s:%s", name, list)
	}
	rf.WriteByte('}')
	report = append(report[:len(report)-1], []byte(`,"`+tickq.KeyResultFields+`":`)...)
	report = append(report, rf.Bytes()...)
	report = append(report, '}')

	var buf bytes.Buffer
	buf.Write(report)
	buf.WriteByte('\n')
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	buf.Write(tickq.FormatRuntimeSummary(tickq.RuntimeSummary{}))
	buf.WriteByte('\n')
	return buf.Bytes()
}

// CannedServer answers every connection with the same response after
// consuming the request.
type CannedServer struct {
	ln       net.Listener
	response []byte
	wg       sync.WaitGroup
}

// NewCannedServer listens on a loopback port.
func NewCannedServer(response []byte) (*CannedServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &CannedServer{ln: ln, response: response}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Addr returns the host:port to dial.
func (s *CannedServer) Addr() string { return s.ln.Addr().String() }

// Close stops the server and waits for open connections.
func (s *CannedServer) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *CannedServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			br := bufio.NewReader(conn)
			header, err := br.ReadBytes('\n')
			if err != nil {
				return
			}
			n := int(gjson.GetBytes(header, tickq.KeyInputCount).Int())
			for range n {
				if _, err := br.ReadBytes('\n'); err != nil {
					return
				}
			}
			conn.Write(s.response)
		}()
	}
}
