// Package worker provides a background job processing system using goroutines.
//
// Go Pattern: Goroutines and channels are Go's concurrency primitives.
// A goroutine is like a lightweight thread (thousands are fine), and
// channels are typed pipes for communication between goroutines.
//
// This worker pool pattern is very common in Go:
// 1. Create a buffered channel as a job queue
// 2. Spawn N worker goroutines that read from the channel
// 3. Send jobs to the channel from your HTTP handlers
// 4. Workers process jobs concurrently
//
// Conversions are too slow for a request cycle (vision OCR plus an AI
// enhancement call can take half a minute), so the upload handler queues
// a job and returns 202 immediately.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scrybe-hq/form-intake-api/internal/database"
	"github.com/scrybe-hq/form-intake-api/internal/services/conversion"
	"github.com/scrybe-hq/form-intake-api/internal/storage"
)

// JobType identifies what kind of work a job represents.
type JobType string

const (
	JobConversionProcessing JobType = "conversion_processing"
)

// janitorInterval is how often expired conversions are swept.
const janitorInterval = 1 * time.Hour

// Job represents a unit of work to be processed by a worker.
type Job struct {
	ConversionID string
	OrgID        string
	Type         JobType
	CreatedAt    time.Time
}

// Pool manages a pool of worker goroutines plus the retention janitor.
type Pool struct {
	// Go Pattern: This buffered channel acts as our job queue.
	// Buffered means it can hold `queueSize` jobs before blocking.
	jobs    chan Job
	workers int

	db        *database.DB
	blobs     storage.Store
	converter *conversion.Service

	// Go Pattern: sync.WaitGroup tracks running goroutines.
	// wg.Wait() blocks until all workers are done (graceful shutdown).
	wg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a new worker pool.
func NewPool(workers, queueSize int, db *database.DB, blobs storage.Store, converter *conversion.Service) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:      make(chan Job, queueSize),
		workers:   workers,
		db:        db,
		blobs:     blobs,
		converter: converter,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker goroutines and the retention janitor.
func (p *Pool) Start() {
	log.Printf("🚀 Starting %d background workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.wg.Add(1)
	go p.janitor()
}

// Stop gracefully shuts down all workers.
// Go Pattern: Close the channel + cancel the context + wait for completion.
func (p *Pool) Stop() {
	log.Println("⏹️  Stopping workers...")
	p.cancel()
	close(p.jobs) // workers drain remaining jobs, then exit
	p.wg.Wait()
	log.Println("✅ All workers stopped")
}

// Submit adds a job to the queue.
// Returns an error if the queue is full (non-blocking).
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobs <- job:
		log.Printf("📥 Job queued: conversion %s", job.ConversionID)
		return nil
	default:
		return fmt.Errorf("job queue is full; try again later")
	}
}

// QueueSize returns the current number of jobs in the queue.
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// WorkerCount returns the number of workers.
func (p *Pool) WorkerCount() int {
	return p.workers
}

// worker is the main loop for each worker goroutine.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log.Printf("👷 Worker %d started", id)

	// Go Pattern: `range` over a channel reads values until the channel
	// is closed — the idiomatic way to consume a job queue.
	for job := range p.jobs {
		select {
		case <-p.ctx.Done():
			log.Printf("👷 Worker %d shutting down", id)
			return
		default:
		}

		log.Printf("👷 Worker %d processing conversion %s", id, job.ConversionID)

		err := p.converter.Process(p.ctx, job.OrgID, job.ConversionID)
		switch {
		case errors.Is(err, conversion.ErrAlreadyProcessed):
			log.Printf("⏭️  Worker %d: conversion %s already handled", id, job.ConversionID)
		case err != nil:
			log.Printf("❌ Worker %d: conversion %s failed: %v", id, job.ConversionID, err)
		default:
			log.Printf("✅ Worker %d: conversion %s completed", id, job.ConversionID)
		}
	}

	log.Printf("👷 Worker %d stopped", id)
}

// janitor periodically deletes conversions past their retention window,
// along with their stored source documents. Accepted conversions keep
// their form — only the conversion record and blob go.
func (p *Pool) janitor() {
	defer p.wg.Done()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	// One sweep at startup catches anything that expired while down.
	p.sweepExpired()

	for {
		select {
		case <-p.ctx.Done():
			log.Println("🧹 Janitor stopped")
			return
		case <-ticker.C:
			p.sweepExpired()
		}
	}
}

func (p *Pool) sweepExpired() {
	expired, err := p.db.ListExpiredConversions(p.ctx, 100)
	if err != nil {
		log.Printf("⚠️  Janitor: failed to list expired conversions: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	for _, c := range expired {
		if err := p.blobs.Delete(p.ctx, c.SourcePath); err != nil {
			log.Printf("⚠️  Janitor: failed to delete blob %s: %v", c.SourcePath, err)
			continue // keep the row so the next sweep retries the blob
		}
		if err := p.db.DeleteConversionByID(p.ctx, c.ID); err != nil {
			log.Printf("⚠️  Janitor: failed to delete conversion %s: %v", c.ID, err)
		}
	}
	log.Printf("🧹 Janitor: swept %d expired conversions", len(expired))
}
