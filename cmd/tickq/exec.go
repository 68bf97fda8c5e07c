// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Query-farm/tickq/conformance"
	"github.com/Query-farm/tickq/tickq"
	tickqotel "github.com/Query-farm/tickq/tickq/otel"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var (
	execOutput    string
	execTelemetry bool
)

var execCmd = &cobra.Command{
	Use:   "exec <batch.jsonl>",
	Short: "Execute a batch of records and print the merged results",
	Long: `Execute reads one record per line, each a JSON object of the form

  {"alias": "px", "function": "VWAP", "args": {"Symbol": "TEST", ...}}

and sends them as one request. "-" reads standard input. Results are
written as separator-delimited lines with a header row; an output path
ending in .zst is zstd-compressed.`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

func init() {
	flags := execCmd.Flags()
	flags.String("time-zone", "", "time zone for naive timestamps")
	flags.String("separator", "", "field separator")
	flags.Bool("sorted", false, "records are already in ID order")
	flags.Bool("streaming", false, "send the single-function header form")
	flags.Int("timeout", 0, "batch timeout in seconds, 0 for none")
	flags.StringVarP(&execOutput, "output", "o", "-", "output path, - for standard output")
	flags.BoolVar(&execTelemetry, "telemetry", false, "export spans and metrics to standard error")

	v.BindPFlag("request.time_zone", flags.Lookup("time-zone"))
	v.BindPFlag("request.separator", flags.Lookup("separator"))
	v.BindPFlag("request.input_sorted", flags.Lookup("sorted"))
	v.BindPFlag("request.streaming", flags.Lookup("streaming"))
	v.BindPFlag("service.timeout_sec", flags.Lookup("timeout"))
	v.BindPFlag("telemetry.enabled", flags.Lookup("telemetry"))
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if d := cfg.Timeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	catalog, err := loadCatalog(ctx)
	if err != nil {
		return err
	}
	client := tickq.NewClient(catalog, cfg.ClientConfig())
	client.SetLogger(log)
	if cfg.Service.Embedded {
		service := conformance.NewService(conformance.SampleTape())
		service.SetLogger(log.Named("embedded"))
		client.SetTransport(tickq.NewEmbeddedTransport(service.Call))
	}
	if cfg.Telemetry.Enabled || execTelemetry {
		shutdown, err := setupTelemetry(cfg.Telemetry.ServiceName)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
		tickqotel.InstrumentClient(client, tickqotel.DefaultConfig())
	}

	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	batch := client.NewBatch()
	if err := readBatch(in, batch); err != nil {
		return err
	}
	result, err := batch.Execute(ctx)
	if err != nil {
		return err
	}
	defer result.Release()

	for _, e := range result.Report.Errors {
		log.Warn("records failed", zap.String("type", e.Type), zap.Int("count", e.Count))
	}
	return writeOutput(execOutput, result.Table, cfg.Request.Separator)
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// readBatch adds every line of r to batch.
func readBatch(r io.Reader, batch *tickq.Batch) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if !gjson.Valid(text) {
			return fmt.Errorf("line %d: invalid JSON", line)
		}
		doc := gjson.Parse(text)
		fn := doc.Get("function").String()
		if fn == "" {
			return fmt.Errorf("line %d: no function", line)
		}
		args := map[string]any{}
		doc.Get("args").ForEach(func(k, val gjson.Result) bool {
			args[k.String()] = jsonArgument(val)
			return true
		})
		if err := batch.Add(doc.Get("alias").String(), fn, args); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

// jsonArgument maps a JSON value to the Go value a record holds: int64 for
// integral numbers, float64 for others, strings otherwise.
func jsonArgument(val gjson.Result) any {
	if val.Type == gjson.Number {
		if f := val.Float(); f == float64(val.Int()) {
			return val.Int()
		}
		return val.Float()
	}
	return val.String()
}

// writeOutput writes table as delimited text to path, zstd-compressed when
// the path ends in .zst.
func writeOutput(path string, table *tickq.ResultTable, sep string) error {
	if path == "-" {
		return encodeTable(os.Stdout, table, sep, false)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = encodeTable(f, table, sep, strings.HasSuffix(path, ".zst"))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// encodeTable writes table to w and finishes the compressed stream, if any.
func encodeTable(w io.Writer, table *tickq.ResultTable, sep string, compress bool) error {
	var enc *zstd.Encoder
	if compress {
		var err error
		if enc, err = zstd.NewWriter(w); err != nil {
			return err
		}
		w = enc
	}
	bw := bufio.NewWriter(w)
	err := writeTable(bw, table, sep)
	if err == nil {
		err = bw.Flush()
	}
	if enc != nil {
		if cerr := enc.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func writeTable(w io.Writer, table *tickq.ResultTable, sep string) error {
	if table == nil {
		return nil
	}
	keys := table.Keys()
	if _, err := fmt.Fprintln(w, strings.Join(keys, sep)); err != nil {
		return err
	}
	cells := make([]string, len(keys))
	for row := 0; row < table.Len(); row++ {
		for i, k := range keys {
			col, _ := table.Column(k)
			cells[i] = tickq.FormatCell(col, row)
		}
		if _, err := fmt.Fprintln(w, strings.Join(cells, sep)); err != nil {
			return err
		}
	}
	return nil
}
