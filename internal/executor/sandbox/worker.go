package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// ServeWorker runs the single Job read from r and writes its Report to w.
// It is the body of a worker process: one round per process, so the heap
// the memory watchdog samples belongs to that round alone.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var job Job
	if err := dec.Decode(&job); err != nil {
		return fmt.Errorf("sandbox: decoding job: %w", err)
	}
	if job.Limits.Timeout <= 0 {
		return fmt.Errorf("sandbox: job has no timeout")
	}

	rep, err := RunJob(ctx, job)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		return fmt.Errorf("sandbox: writing report: %w", err)
	}
	return nil
}

// DecodeReport reads the Report a worker wrote.
func DecodeReport(raw []byte) (Report, error) {
	var rep Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return Report{}, fmt.Errorf("sandbox: decoding worker report: %w", err)
	}
	if rep.Lines == nil {
		rep.Lines = []string{}
	}
	return rep, nil
}
