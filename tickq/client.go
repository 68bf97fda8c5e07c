// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
)

// Config holds the request defaults of a client.
type Config struct {
	// Service is the address written into request headers, host:port or
	// unix:/path.
	Service string
	// TimeZone names the zone naive timestamps are interpreted in. Empty
	// means the zone of the first alias's function.
	TimeZone string
	// Separator delimits fields on the socket. Defaults to "|".
	Separator string
	// InputSorted tells the service records are already in ID order.
	InputSorted bool
	// Streaming selects the single-function header form.
	Streaming bool
}

// Client executes batches against one service. It is safe for concurrent
// use once configured; the batches it creates are not.
type Client struct {
	catalog   *Catalog
	cfg       Config
	transport Transport
	hook      ExecuteHook
	logger    *zap.Logger
	mem       memory.Allocator
}

// NewClient creates a client for the functions in catalog. Requests go over
// the socket line protocol to cfg.Service unless SetTransport is called.
func NewClient(catalog *Catalog, cfg Config) *Client {
	if cfg.Separator == "" {
		cfg.Separator = DefaultSeparator
	}
	return &Client{
		catalog:   catalog,
		cfg:       cfg,
		transport: NewLineTransport(""),
		logger:    zap.NewNop(),
		mem:       memory.NewGoAllocator(),
	}
}

// SetTransport replaces the transport.
func (c *Client) SetTransport(t Transport) {
	c.transport = t
}

// SetExecuteHook registers a hook that is called around each batch
// execution.
func (c *Client) SetExecuteHook(hook ExecuteHook) {
	c.hook = hook
}

// SetLogger sets the logger used by the client and its line transport.
func (c *Client) SetLogger(l *zap.Logger) {
	c.logger = l
	if lt, ok := c.transport.(*LineTransport); ok {
		lt.SetLogger(l)
	}
}

// SetAllocator sets the allocator for argument and result columns.
func (c *Client) SetAllocator(mem memory.Allocator) {
	c.mem = mem
	if lt, ok := c.transport.(*LineTransport); ok {
		lt.SetAllocator(mem)
	}
}

// Catalog returns the client's function catalog.
func (c *Client) Catalog() *Catalog { return c.catalog }

// Config returns the client's request defaults.
func (c *Client) Config() Config { return c.cfg }

// Service returns the configured service address.
func (c *Client) Service() string { return c.cfg.Service }

// NewBatch starts an empty batch using the client's defaults, adjusted by
// opts.
func (c *Client) NewBatch(opts ...BatchOption) *Batch {
	b := &Batch{
		client:   c,
		registry: NewAliasRegistry(c.catalog),
		opts: EncodeOptions{
			Service:     c.cfg.Service,
			TimeZone:    c.cfg.TimeZone,
			Separator:   c.cfg.Separator,
			InputSorted: c.cfg.InputSorted,
			Streaming:   c.cfg.Streaming,
		},
	}
	for _, opt := range opts {
		opt(&b.opts)
	}
	return b
}
