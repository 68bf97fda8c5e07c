// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Transport carries an encoded request to the service and returns its raw
// response. Transports never retry.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// Response is the undecoded answer to a request. Columns hold the record
// identifiers followed by one array per declared result field.
type Response struct {
	Report        []byte
	Trailer       []byte
	Columns       []arrow.Array
	Layout        []AliasFields // layout the columns were decoded with, if known
	BytesSent     int64
	BytesReceived int64
}

// Release frees the result columns.
func (r *Response) Release() {
	for _, c := range r.Columns {
		c.Release()
	}
	r.Columns = nil
}

// EmbeddedCall is an in-process binding of the service. It receives the JSON
// header and the argument columns by name, and returns the report document
// plus the result columns: the identifiers first, then each alias's fields
// in report order.
type EmbeddedCall func(ctx context.Context, header []byte, columns map[string]arrow.Array) (report []byte, results []arrow.Array, err error)

// EmbeddedTransport hands requests to an EmbeddedCall.
type EmbeddedTransport struct {
	call EmbeddedCall
}

// NewEmbeddedTransport returns a transport bound to call.
func NewEmbeddedTransport(call EmbeddedCall) *EmbeddedTransport {
	return &EmbeddedTransport{call: call}
}

// RoundTrip invokes the embedded call. Only the mapping header form is
// supported.
func (t *EmbeddedTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if req.Header.Streaming() {
		return nil, fmt.Errorf("%w: embedded calls take the argument mapping header", ErrValidation)
	}
	header, err := req.Header.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding header: %w", err)
	}
	report, results, err := t.call(ctx, header, req.ColumnMap())
	if err != nil {
		if errors.Is(err, ErrTransport) || errors.Is(err, ErrFraming) || errors.Is(err, ErrValidation) {
			return nil, err
		}
		return nil, &TransportError{Op: "call", Addr: "embedded", Err: err}
	}
	return &Response{Report: report, Columns: results, BytesSent: int64(len(header))}, nil
}

// Dialer opens connections to the service.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// LineTransport speaks the socket line protocol. Each request opens its own
// connection, which is closed when the response has been read or on any
// error.
type LineTransport struct {
	address string
	dialer  Dialer
	mem     memory.Allocator
	logger  *zap.Logger
}

// NewLineTransport returns a transport for address. An empty address means
// the address carried in each request header. Addresses are host:port, or
// unix:/path for a unix socket.
func NewLineTransport(address string) *LineTransport {
	return &LineTransport{
		address: address,
		dialer:  &net.Dialer{},
		mem:     memory.NewGoAllocator(),
		logger:  zap.NewNop(),
	}
}

// SetDialer replaces the dialer.
func (t *LineTransport) SetDialer(d Dialer) { t.dialer = d }

// SetAllocator sets the allocator result columns are built with.
func (t *LineTransport) SetAllocator(mem memory.Allocator) { t.mem = mem }

// SetLogger sets the logger.
func (t *LineTransport) SetLogger(l *zap.Logger) { t.logger = l }

// splitAddress maps "unix:/path" to a unix socket and anything else to tcp.
func splitAddress(addr string) (string, string) {
	if rest, ok := strings.CutPrefix(addr, "unix:"); ok {
		return "unix", rest
	}
	return "tcp", strings.TrimPrefix(addr, "tcp://")
}

// wireColumns rewrites the mapping of h to record positions and returns the
// columns in position order.
func wireColumns(h *Header, columns map[string]arrow.Array) ([]arrow.Array, error) {
	positions := map[string]int{}
	var cols []arrow.Array
	for mi := range h.ArgumentMapping {
		m := &h.ArgumentMapping[mi]
		for ai := range m.Arguments {
			p := &m.Arguments[ai]
			pos, ok := positions[p.Column]
			if !ok {
				col, found := columns[p.Column]
				if !found {
					return nil, fmt.Errorf("%w: alias %s argument %s: no column %q", ErrValidation, m.Alias, p.Argument, p.Column)
				}
				cols = append(cols, col)
				pos = len(cols)
				positions[p.Column] = pos
			}
			p.Position = pos
		}
	}
	return cols, nil
}

// RoundTrip sends req and reads the complete response.
func (t *LineTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	h := req.Header
	var cols []arrow.Array
	if h.Streaming() {
		for _, c := range req.Columns {
			cols = append(cols, c.Values)
		}
	} else {
		h.ArgumentMapping = cloneMapping(h.ArgumentMapping)
		var err error
		if cols, err = wireColumns(&h, req.ColumnMap()); err != nil {
			return nil, err
		}
	}
	loc := req.Location
	if loc == nil {
		loc = loadLocation(h.TimeZone)
	}
	return t.exchange(ctx, &h, cols, loc, req.Layout)
}

// Call implements EmbeddedCall on top of the socket protocol, so that an
// EmbeddedTransport can be bound to a remote service. The trailer is merged
// into the returned report: its durations under runtime_summary and its
// error_summary with the report's.
func (t *LineTransport) Call(ctx context.Context, header []byte, columns map[string]arrow.Array) ([]byte, []arrow.Array, error) {
	var h Header
	if err := json.Unmarshal(header, &h); err != nil {
		return nil, nil, fmt.Errorf("%w: header: %v", ErrValidation, err)
	}
	if h.Streaming() {
		return nil, nil, fmt.Errorf("%w: embedded calls take the argument mapping header", ErrValidation)
	}
	cols, err := wireColumns(&h, columns)
	if err != nil {
		return nil, nil, err
	}
	resp, err := t.exchange(ctx, &h, cols, loadLocation(h.TimeZone), nil)
	if err != nil {
		return nil, nil, err
	}
	report, err := mergeTrailer(resp.Report, resp.Trailer)
	if err != nil {
		resp.Release()
		return nil, nil, &ProtocolFramingError{Stage: "trailer", Detail: "merging trailer into report", Err: err}
	}
	return report, resp.Columns, nil
}

func (t *LineTransport) exchange(ctx context.Context, h *Header, cols []arrow.Array, loc *time.Location, fallback []AliasFields) (*Response, error) {
	addr := t.address
	if addr == "" {
		addr = h.Address()
	}
	if addr == "" {
		return nil, &TransportError{Op: "dial", Err: errors.New("no service address")}
	}
	header, err := h.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding header: %w", err)
	}
	sep := h.Separator
	if sep == "" {
		sep = DefaultSeparator
	}

	network, address := splitAddress(addr)
	conn, err := t.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, &TransportError{Op: "dial", Addr: addr, Err: err}
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	cw := &countingWriter{w: conn}
	if err := writeRequest(cw, header, cols, h.InputCount, sep); err != nil {
		return nil, t.ioError(ctx, "write", addr, err)
	}
	cr := &countingReader{r: conn}
	frame, err := readResponse(bufio.NewReaderSize(cr, writeChunkSize))
	if err != nil {
		return nil, t.ioError(ctx, "read", addr, err)
	}

	layout, err := parseResultFields(gjson.ParseBytes(frame.head))
	if err != nil {
		return nil, err
	}
	if layout == nil {
		layout = fallback
	}
	columns, err := DecodeRecordLines(t.mem, frame.records, layout, sep, loc)
	if err != nil {
		return nil, err
	}

	t.logger.Debug("request exchanged",
		zap.String("request_id", h.RequestID),
		zap.String("addr", addr),
		zap.Int("input_records", h.InputCount),
		zap.Int("output_records", len(frame.records)),
		zap.Int64("bytes_sent", cw.n),
		zap.Int64("bytes_received", cr.n),
	)

	return &Response{
		Report:        frame.head,
		Trailer:       frame.trailer,
		Columns:       columns,
		Layout:        layout,
		BytesSent:     cw.n,
		BytesReceived: cr.n,
	}, nil
}

// ioError classifies a failure on an open connection.
func (t *LineTransport) ioError(ctx context.Context, op, addr string, err error) error {
	if errors.Is(err, ErrFraming) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else if dl, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(dl) {
		// The socket deadline can fire before the context notices.
		err = context.DeadlineExceeded
	}
	t.logger.Warn("connection failed", zap.String("op", op), zap.String("addr", addr), zap.Error(err))
	return &TransportError{Op: op, Addr: addr, Err: err}
}

func cloneMapping(in []ArgumentMapping) []ArgumentMapping {
	out := make([]ArgumentMapping, len(in))
	for i, m := range in {
		out[i] = m
		out[i].Arguments = append([]ArgumentPair(nil), m.Arguments...)
	}
	return out
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
