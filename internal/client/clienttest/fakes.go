// Package clienttest provides in-memory collaborators for tests.
package clienttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
)

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

func pop(q *[]error) error {
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}

// Uploader records upload targets and bodies. Errs is consumed one entry per
// RequestUploadTarget call; a nil entry succeeds.
type Uploader struct {
	mu       sync.Mutex
	Errs     []error
	requests int
	bodies   [][]byte
}

var _ client.Uploader = (*Uploader)(nil)

func (u *Uploader) RequestUploadTarget(_ context.Context, req client.UploadTargetRequest) (client.UploadTarget, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests++
	if err := pop(&u.Errs); err != nil {
		return client.UploadTarget{}, err
	}
	path := fmt.Sprintf("proofs/%d-%s", u.requests, req.Filename)
	return client.UploadTarget{UploadURL: "mem://" + path, Path: path}, nil
}

func (u *Uploader) Put(_ context.Context, _ client.UploadTarget, body []byte, _ string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.bodies = append(u.bodies, body)
	return nil
}

// Requests reports how many upload targets were requested.
func (u *Uploader) Requests() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests
}

// Bodies returns every payload that was put.
func (u *Uploader) Bodies() [][]byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([][]byte(nil), u.bodies...)
}

// Extractor answers with Fn, after consuming one entry of Errs per call.
type Extractor struct {
	mu    sync.Mutex
	Errs  []error
	Fn    func(req client.ExtractRequest) (client.ExtractResult, error)
	calls []client.ExtractRequest
}

var _ client.Extractor = (*Extractor)(nil)

func (e *Extractor) Extract(_ context.Context, req client.ExtractRequest) (client.ExtractResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, req)
	err := pop(&e.Errs)
	fn := e.Fn
	e.mu.Unlock()
	if err != nil {
		return client.ExtractResult{}, err
	}
	if fn == nil {
		return client.ExtractResult{Steps: IntPtr(1000), Date: "2026-01-10", Confidence: "high"}, nil
	}
	return fn(req)
}

// Calls returns the requests seen so far.
func (e *Extractor) Calls() []client.ExtractRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]client.ExtractRequest(nil), e.calls...)
}

// Committer keeps one record per date and reports collisions like the record API.
type Committer struct {
	mu      sync.Mutex
	Errs    []error
	records map[string]entity.Record
	calls   []client.CommitRequest
}

var _ client.RecordCommitter = (*Committer)(nil)

// NewCommitter seeds the store with existing records.
func NewCommitter(existing ...entity.Record) *Committer {
	c := &Committer{records: map[string]entity.Record{}}
	for _, r := range existing {
		c.records[r.Date] = r
	}
	return c
}

func (c *Committer) Commit(_ context.Context, req client.CommitRequest) (client.CommitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	if err := pop(&c.Errs); err != nil {
		return client.CommitResult{}, err
	}
	if cur, ok := c.records[req.Date]; ok {
		if !req.Overwrite {
			return client.CommitResult{}, &common.ConflictError{
				Date:     req.Date,
				Existing: entity.ExistingRecord{ID: cur.ID, Steps: cur.Steps, Verified: cur.Verified, ProofRef: cur.ProofRef},
			}
		}
		cur.Steps = req.Steps
		cur.ProofRef = req.ProofRef
		cur.Verified = false
		c.records[req.Date] = cur
		return client.CommitResult{ID: cur.ID}, nil
	}
	id := uuid.NewString()
	c.records[req.Date] = entity.Record{ID: id, Date: req.Date, Steps: req.Steps, ProofRef: req.ProofRef}
	return client.CommitResult{ID: id}, nil
}

// Record returns the stored record for date.
func (c *Committer) Record(date string) (entity.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[date]
	return r, ok
}

// Calls returns the commit requests seen so far.
func (c *Committer) Calls() []client.CommitRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]client.CommitRequest(nil), c.calls...)
}
