package provision

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/esp-secure-provisioning/interfaces"
)

// Outcome values stored in Record.Result.
const (
	ResultBurned      = "burned"
	ResultProvisioned = "already-provisioned"
	ResultAborted     = "aborted"
	ResultUncertain   = "uncertain"
	ResultFailed      = "failed"
)

// StepResult is one executed or skipped step.
type StepResult struct {
	Step     Step          `json:"step"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// Record is the audit trail of one provisioning run. It is written to the
// archive after the run and never read back to drive decisions.
type Record struct {
	ID         uuid.UUID    `json:"id"`
	Flow       string       `json:"flow"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Env        string       `json:"env,omitempty"`
	Port       string       `json:"port,omitempty"`
	Chip       string       `json:"chip,omitempty"`
	MAC        string       `json:"mac,omitempty"`
	KeyPath    string       `json:"key_path,omitempty"`
	KeyDigest  string       `json:"key_digest,omitempty"`
	Fuses      []string     `json:"fuses,omitempty"`
	Steps      []StepResult `json:"steps"`
	Result     string       `json:"result"`
	Error      string       `json:"error,omitempty"`
}

func newRecord(flow string) *Record {
	return &Record{
		ID:        uuid.New(),
		Flow:      flow,
		StartedAt: time.Now().UTC(),
	}
}

// step runs fn as step s and records its outcome.
func (r *Record) step(s Step, fn func() error) error {
	start := time.Now()
	err := fn()
	res := StepResult{Step: s, Status: "ok", Duration: time.Since(start)}
	if err != nil {
		res.Status = "failed"
		res.Error = err.Error()
	}
	r.Steps = append(r.Steps, res)
	if err != nil {
		return &StepError{Step: s, Err: err}
	}
	return nil
}

func (r *Record) skip(s Step) {
	r.Steps = append(r.Steps, StepResult{Step: s, Status: "skipped"})
}

// Ran reports whether step s was executed.
func (r *Record) Ran(s Step) bool {
	for _, st := range r.Steps {
		if st.Step == s && st.Status != "skipped" {
			return true
		}
	}
	return false
}

func (r *Record) finish(err error) {
	r.FinishedAt = time.Now().UTC()
	if err == nil {
		if r.Result == "" {
			r.Result = ResultBurned
		}
		return
	}
	r.Error = err.Error()
	switch {
	case errors.Is(err, interfaces.ErrNotConfirmed):
		r.Result = ResultAborted
	case errors.Is(err, interfaces.ErrUncertainState):
		r.Result = ResultUncertain
	default:
		r.Result = ResultFailed
	}
}

// archive stores rec in the configured backend. Failures are logged only.
func (p *Provisioner) archive(ctx context.Context, rec *Record) string {
	if p.archiveBackend == nil {
		return ""
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		p.log.Warn("Failed to encode provisioning record", slog.String("record_id", rec.ID.String()), "err", err)
		return ""
	}

	// the flow context may already be cancelled after an interrupt
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	id, err := p.archiveBackend.Store(storeCtx, data, interfaces.RecordType)
	if err != nil {
		p.log.Warn("Failed to archive provisioning record",
			slog.String("record_id", rec.ID.String()),
			slog.String("backend", p.archiveBackend.Name()),
			"err", err)
		return ""
	}
	p.log.Info("Archived provisioning record",
		slog.String("record_id", rec.ID.String()),
		slog.String("content_id", id.String()),
		slog.String("result", rec.Result))
	return id.String()
}
