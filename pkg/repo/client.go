// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package repo talks to the remote content-addressable repository over
// XRPC: bulk-writing play records, listing what's already there for
// deduplication, and deleting records during a dedup sweep.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ewanc26/lfmimport/internal/errors"
	"github.com/ewanc26/lfmimport/pkg/ratelimit"
	"github.com/ewanc26/lfmimport/pkg/records"
)

// MaxOpsPerBulkWrite is the hard cap on operations in a single
// applyWrites call, enforced both here (to fail fast) and by the
// batcher/pacer, which never recommend a size above it.
const MaxOpsPerBulkWrite = 200

// WriteOp is one create/update/delete inside a bulk write.
type WriteOp struct {
	Action string // "create", "update", or "delete"
	RKey   string
	Record *records.PlayRecord
}

// BulkWriteResult reports per-operation outcomes alongside the raw
// response headers, so the caller can feed both the Ledger (rate-limit
// headers) and per-record error handling from one round trip.
type BulkWriteResult struct {
	Headers http.Header
	Results []OpResult
}

// OpResult is the server's verdict on one WriteOp.
type OpResult struct {
	RKey    string
	Success bool
	// Kind classifies a failure: "invalid_record", "collision", or "" on success.
	Kind    string
	Message string
}

// ListedRecord is one entry from a repository listing, used by the
// dedup layer to build its fingerprint cache. RKey is derived from the
// record's AT-URI (its final path segment).
type ListedRecord struct {
	URI    string
	CID    string
	RKey   string
	Record records.PlayRecord
}

// Client is the minimal surface the publish loop and dedup layer need
// from the remote repository. A real network implementation and a
// fake for tests both satisfy it.
type Client interface {
	BulkWrite(ctx context.Context, repoDID string, ops []WriteOp) (BulkWriteResult, error)
	ListRecords(ctx context.Context, repoDID string, cursor string, limit int) (records []ListedRecord, nextCursor string, headers http.Header, err error)
	DeleteRecord(ctx context.Context, repoDID, rkey string) (http.Header, error)
}

// XRPCClient is the resty-backed implementation. Host is the PDS base
// URL (e.g. "https://bsky.social"); AccessToken authenticates every call.
type XRPCClient struct {
	rc          *resty.Client
	host        string
	accessToken string
}

// NewXRPCClient builds a Client against host, authenticating with
// accessToken. Timeouts and retry are configured once here rather than
// per-call, matching the "one client, reused" pattern of REST-backed
// CLI tools.
func NewXRPCClient(host, accessToken string) *XRPCClient {
	rc := resty.New().
		SetBaseURL(host).
		SetTimeout(30 * time.Second).
		SetRetryCount(0) // the publish loop owns retry/backoff, not the transport

	return &XRPCClient{rc: rc, host: host, accessToken: accessToken}
}

type bulkWriteOpWire struct {
	Action     string              `json:"action"`
	Collection string              `json:"collection"`
	RKey       string              `json:"rkey,omitempty"`
	Value      *records.PlayRecord `json:"value,omitempty"`
}

type bulkWriteRequest struct {
	Repo   string            `json:"repo"`
	Writes []bulkWriteOpWire `json:"writes"`
}

type bulkWriteResultWire struct {
	RKey    string `json:"rkey"`
	Success bool   `json:"success"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

type bulkWriteResponse struct {
	Results []bulkWriteResultWire `json:"results"`
}

// BulkWrite issues a single com.atproto.repo.applyWrites-shaped call
// for up to MaxOpsPerBulkWrite operations.
func (c *XRPCClient) BulkWrite(ctx context.Context, repoDID string, ops []WriteOp) (BulkWriteResult, error) {
	if len(ops) == 0 {
		return BulkWriteResult{}, nil
	}
	if len(ops) > MaxOpsPerBulkWrite {
		return BulkWriteResult{}, errors.NewInternalError(
			"Batch too large",
			fmt.Sprintf("bulk write called with %d operations, hard cap is %d", len(ops), MaxOpsPerBulkWrite),
			"This is a bug in the batch sizing logic. Please report it.",
			nil,
		)
	}

	req := bulkWriteRequest{Repo: repoDID}
	for _, op := range ops {
		req.Writes = append(req.Writes, bulkWriteOpWire{
			Action:     op.Action,
			Collection: records.CollectionNSID,
			RKey:       op.RKey,
			Value:      op.Record,
		})
	}

	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(c.accessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("/xrpc/com.atproto.repo.applyWrites")
	if err != nil {
		return BulkWriteResult{}, errors.NewTransientNetworkError(
			fmt.Sprintf("request to %s failed", c.host), err)
	}

	if det := ratelimit.Detect(resp.StatusCode(), resp.Header(), resp.String()); det.IsRateLimit {
		return BulkWriteResult{Headers: resp.Header()}, errors.NewRateLimitError(
			fmt.Sprintf("server responded %d to bulk write", resp.StatusCode()),
			det.ResetAt, nil)
	}
	if resp.IsError() {
		return BulkWriteResult{Headers: resp.Header()}, errors.NewTransientNetworkError(
			fmt.Sprintf("server responded %d: %s", resp.StatusCode(), truncate(resp.String(), 200)), nil)
	}

	var parsed bulkWriteResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return BulkWriteResult{Headers: resp.Header()}, errors.NewTransientNetworkError(
			"bulk write response body was not valid JSON", err)
	}

	out := BulkWriteResult{Headers: resp.Header()}
	for _, r := range parsed.Results {
		out.Results = append(out.Results, OpResult{
			RKey: r.RKey, Success: r.Success, Kind: r.Kind, Message: r.Message,
		})
	}
	return out, nil
}

type listRecordsResponse struct {
	Cursor  string `json:"cursor"`
	Records []struct {
		URI   string             `json:"uri"`
		CID   string             `json:"cid"`
		Value records.PlayRecord `json:"value"`
	} `json:"records"`
}

// rkeyFromURI extracts the record key from an AT-URI
// (at://did/collection/rkey).
func rkeyFromURI(uri string) string {
	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] == '/' {
			return uri[i+1:]
		}
	}
	return uri
}

// ListRecords pages through com.atproto.repo.listRecords for the play
// collection, returning the next cursor ("" when the listing is
// exhausted).
func (c *XRPCClient) ListRecords(ctx context.Context, repoDID string, cursor string, limit int) ([]ListedRecord, string, http.Header, error) {
	q := map[string]string{
		"repo":       repoDID,
		"collection": records.CollectionNSID,
		"limit":      fmt.Sprintf("%d", limit),
	}
	if cursor != "" {
		q["cursor"] = cursor
	}

	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(c.accessToken).
		SetQueryParams(q).
		Get("/xrpc/com.atproto.repo.listRecords")
	if err != nil {
		return nil, "", nil, errors.NewTransientNetworkError(
			fmt.Sprintf("request to %s failed", c.host), err)
	}

	if det := ratelimit.Detect(resp.StatusCode(), resp.Header(), resp.String()); det.IsRateLimit {
		return nil, "", resp.Header(), errors.NewRateLimitError(
			fmt.Sprintf("server responded %d to list records", resp.StatusCode()),
			det.ResetAt, nil)
	}
	if resp.IsError() {
		return nil, "", resp.Header(), errors.NewTransientNetworkError(
			fmt.Sprintf("server responded %d: %s", resp.StatusCode(), truncate(resp.String(), 200)), nil)
	}

	var parsed listRecordsResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, "", resp.Header(), errors.NewTransientNetworkError(
			"list records response body was not valid JSON", err)
	}

	out := make([]ListedRecord, 0, len(parsed.Records))
	for _, r := range parsed.Records {
		out = append(out, ListedRecord{URI: r.URI, CID: r.CID, RKey: rkeyFromURI(r.URI), Record: r.Value})
	}
	return out, parsed.Cursor, resp.Header(), nil
}

type deleteRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
}

// DeleteRecord issues a com.atproto.repo.deleteRecord call, used by the
// remote-duplicate sweep. Each delete costs 1 quota point.
func (c *XRPCClient) DeleteRecord(ctx context.Context, repoDID, rkey string) (http.Header, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(c.accessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(deleteRecordRequest{Repo: repoDID, Collection: records.CollectionNSID, RKey: rkey}).
		Post("/xrpc/com.atproto.repo.deleteRecord")
	if err != nil {
		return nil, errors.NewTransientNetworkError(
			fmt.Sprintf("request to %s failed", c.host), err)
	}

	if det := ratelimit.Detect(resp.StatusCode(), resp.Header(), resp.String()); det.IsRateLimit {
		return resp.Header(), errors.NewRateLimitError(
			fmt.Sprintf("server responded %d to delete record", resp.StatusCode()),
			det.ResetAt, nil)
	}
	if resp.IsError() {
		return resp.Header(), errors.NewTransientNetworkError(
			fmt.Sprintf("server responded %d: %s", resp.StatusCode(), truncate(resp.String(), 200)), nil)
	}
	return resp.Header(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
