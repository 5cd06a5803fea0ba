package batch

import (
	"context"
	"log/slog"
)

// ScanRecord pairs one scanned item with its scan outcome.
type ScanRecord[S, P any] struct {
	Item    S
	Outcome Outcome[[]P]
}

// PipelineOptions configures both phases of ScanThenProcess. The two
// phases run with independent concurrency settings.
type PipelineOptions[S, P, TP any] struct {
	Scan    Options[[]P]
	Process Options[TP]
	// Extract pulls the items to process out of one scan outcome. Nil
	// means take the outcome value of successful scans as-is.
	Extract func(item S, oc Outcome[[]P]) []P
}

// PipelineResult carries everything both phases produced.
type PipelineResult[S, P, TP any] struct {
	ScanRecords    []ScanRecord[S, P]
	ProcessItems   []P
	ProcessResults []Outcome[TP]
}

// ScanThenProcess runs a two-phase workflow: scan every input item to
// discover work, flatten the discoveries in scan input order, then process
// the flattened items. A failed scan contributes nothing to phase two and
// is logged as a warning rather than aborting the pipeline; when the
// flattened set is empty phase two is skipped entirely.
func ScanThenProcess[S, P, TP any](
	ctx context.Context,
	scanItems []S,
	scanFn Func[S, []P],
	processFn Func[P, TP],
	opts PipelineOptions[S, P, TP],
) (*PipelineResult[S, P, TP], error) {
	if err := validateConcurrency(opts.Scan.Concurrency); err != nil {
		return nil, err
	}
	if err := validateConcurrency(opts.Process.Concurrency); err != nil {
		return nil, err
	}

	log := opts.Scan.logger()

	scanOutcomes, scanErr := Run(ctx, scanItems, scanFn, opts.Scan)

	res := &PipelineResult[S, P, TP]{
		ScanRecords:    make([]ScanRecord[S, P], len(scanOutcomes)),
		ProcessResults: []Outcome[TP]{},
	}
	for i, oc := range scanOutcomes {
		res.ScanRecords[i] = ScanRecord[S, P]{Item: scanItems[i], Outcome: oc}
		if oc.Status == StatusFailed {
			log.Warn("scan failed, its items are excluded from processing",
				slog.Int("index", i),
				slog.String("error", oc.Error),
			)
			continue
		}
		if opts.Extract != nil {
			res.ProcessItems = append(res.ProcessItems, opts.Extract(scanItems[i], oc)...)
			continue
		}
		if oc.Status == StatusSuccess {
			res.ProcessItems = append(res.ProcessItems, oc.Value...)
		}
	}
	if scanErr != nil {
		return res, scanErr
	}

	if len(res.ProcessItems) == 0 {
		log.Info("scan discovered nothing to process",
			slog.Int("scanned", len(scanItems)),
		)
		return res, nil
	}

	procOutcomes, procErr := Run(ctx, res.ProcessItems, processFn, opts.Process)
	res.ProcessResults = procOutcomes
	return res, procErr
}
