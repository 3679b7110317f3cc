// Package ingest runs the whole extraction pipeline for a subsystem:
// preprocess and parse every source file concurrently, assemble the call
// graph, and persist the snapshot.
package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kimpact/internal/callgraph"
	"kimpact/internal/config"
	"kimpact/internal/extract"
	"kimpact/internal/logging"
	"kimpact/internal/preproc"
	"kimpact/internal/storage"
	"kimpact/internal/subsys"
)

// Options tunes one ingestion run.
type Options struct {
	SkipPreprocessing bool // parse raw source without gcc -E
	Workers           int  // overrides the configured worker count when > 0
}

// Summary reports what an ingestion produced.
type Summary struct {
	RunID         string        `json:"runId"`
	Subsystem     string        `json:"subsystem"`
	Duration      time.Duration `json:"duration"`
	FilesTotal    int           `json:"filesTotal"`
	FilesSkipped  int           `json:"filesSkipped"`
	FilesFallback int           `json:"filesFallback"`
	FilesDegraded int           `json:"filesDegraded"`
	Functions     int           `json:"functions"`
	Edges         int           `json:"edges"`
	CallSites     int           `json:"callSites"`
	Unresolved    int           `json:"unresolved"`
}

// Pipeline ingests kernel subsystems into the graph store.
type Pipeline struct {
	cfg    *config.Config
	store  *storage.GraphStore
	logger *logging.Logger
}

// NewPipeline creates an ingestion pipeline. store may be nil for in-memory
// runs that only need the returned snapshot.
func NewPipeline(cfg *config.Config, store *storage.GraphStore, logger *logging.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		store:  store,
		logger: logger.With(map[string]interface{}{"component": "ingest"}),
	}
}

// Run ingests one subsystem and returns the snapshot plus a summary.
// Individual file failures degrade the result but never abort the run;
// only an unusable subsystem layout is fatal.
func (p *Pipeline) Run(ctx context.Context, subsystem string, opts Options) (*callgraph.Snapshot, *Summary, error) {
	started := time.Now()
	runID := uuid.New().String()

	layout, err := subsys.Scan(p.cfg.Kernel.Root, subsystem)
	if err != nil {
		return nil, nil, err
	}

	profiles, err := config.LoadProfiles(p.cfg.Kernel.Root)
	if err != nil {
		p.logger.Warn("subsystem profiles unavailable, using defaults", map[string]interface{}{
			"error": err.Error(),
		})
	}

	preCfg := p.cfg.Preprocessor
	var prof *config.SubsystemProfile
	if profiles != nil {
		prof = profiles.For(subsystem)
		if prof != nil {
			prof.Apply(&preCfg)
		}
	}
	if opts.SkipPreprocessing {
		preCfg.Enabled = false
	}

	pre := preproc.New(p.cfg.Kernel.Root, preCfg, config.ModuleName(subsystem, prof), p.logger)

	workers := p.cfg.Ingest.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	if workers < 1 {
		workers = 1
	}

	p.logger.Info("starting ingestion", map[string]interface{}{
		"runId":     runID,
		"subsystem": subsystem,
		"files":     len(layout.Sources),
		"workers":   workers,
	})

	extractions, skipped := p.extractAll(ctx, layout, pre, workers)

	asm := callgraph.NewAssembler(subsystem, p.logger)
	summary := &Summary{
		RunID:        runID,
		Subsystem:    subsystem,
		FilesTotal:   len(layout.Sources),
		FilesSkipped: skipped,
	}
	for _, fx := range extractions {
		if fx.PreprocFallback {
			summary.FilesFallback++
		}
		if fx.ParseDegraded {
			summary.FilesDegraded++
		}
		asm.Add(fx)
	}

	snap := asm.Build()
	summary.Functions = snap.Stats.TotalFunctions
	summary.Edges = snap.Stats.TotalEdges
	summary.CallSites = snap.Stats.TotalCallSites
	summary.Unresolved = snap.Stats.TotalUnresolved
	summary.Duration = time.Since(started)

	if p.store != nil {
		if err := p.store.SaveSnapshot(snap); err != nil {
			return nil, nil, err
		}
		run := &storage.IngestRun{
			ID:            runID,
			Subsystem:     subsystem,
			StartedAt:     started,
			FinishedAt:    time.Now(),
			FilesTotal:    summary.FilesTotal,
			FilesFallback: summary.FilesFallback,
			FilesDegraded: summary.FilesDegraded,
			Functions:     summary.Functions,
			Edges:         summary.Edges,
			Unresolved:    summary.Unresolved,
		}
		if err := p.store.RecordRun(run); err != nil {
			return nil, nil, err
		}
	}

	p.logger.Info("ingestion complete", map[string]interface{}{
		"runId":      runID,
		"functions":  summary.Functions,
		"edges":      summary.Edges,
		"unresolved": summary.Unresolved,
		"duration":   summary.Duration.String(),
	})

	return snap, summary, nil
}

// extractAll fans source files out over a worker pool. Each worker owns its
// parser; results are re-sorted by file so the assembly input is stable no
// matter which worker finished first.
func (p *Pipeline) extractAll(ctx context.Context, layout *subsys.Layout, pre *preproc.Preprocessor, workers int) ([]*extract.FileExtraction, int) {
	files := make(chan string, len(layout.Sources))
	results := make(chan *extract.FileExtraction, len(layout.Sources))

	var skipped sync.Map
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ex := extract.NewExtractor(p.logger)
			for file := range files {
				if ctx.Err() != nil {
					return
				}
				res, err := pre.Run(ctx, file)
				if err != nil {
					skipped.Store(file, err)
					continue
				}
				fx, err := ex.Extract(ctx, file, res, layout)
				if err != nil {
					skipped.Store(file, err)
					continue
				}
				results <- fx
			}
		}()
	}

	for _, file := range layout.Sources {
		files <- file
	}
	close(files)
	wg.Wait()
	close(results)

	var extractions []*extract.FileExtraction
	for fx := range results {
		extractions = append(extractions, fx)
	}
	sort.Slice(extractions, func(i, j int) bool {
		return extractions[i].File < extractions[j].File
	})

	skippedCount := 0
	skipped.Range(func(file, err interface{}) bool {
		skippedCount++
		p.logger.Warn("skipped unreadable source file", map[string]interface{}{
			"file":  file,
			"error": err.(error).Error(),
		})
		return true
	})

	return extractions, skippedCount
}
