package log

import (
	"context"
	"strconv"
	"sync"

	"cabbageDDL/ddlerr"
	"cabbageDDL/logger"
	"cabbageDDL/metrics"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// StateMachine applies committed entries in index order.
type StateMachine interface {
	Apply(ctx context.Context, entry *Entry) error
}

// Feedback streams the status rows of a single proposal. The channel is closed
// after the applied or failed row.
type Feedback struct {
	ID    RequestID
	Index Index
	rows  chan FeedbackRow
}

func newFeedback(id RequestID, index Index) *Feedback {
	return &Feedback{ID: id, Index: index, rows: make(chan FeedbackRow, 4)}
}

func (f *Feedback) Rows() <-chan FeedbackRow {
	return f.rows
}

// Wait drains the stream. The returned error is non-nil if the entry failed to
// apply or ctx ended first.
func (f *Feedback) Wait(ctx context.Context) ([]FeedbackRow, error) {
	var rows []FeedbackRow
	for {
		select {
		case <-ctx.Done():
			return rows, ctx.Err()
		case row, ok := <-f.rows:
			if !ok {
				return rows, nil
			}
			rows = append(rows, row)
			if row.Status == StatusFailed {
				return rows, ddlerr.New(ddlerr.Replication, "entry %d failed on %s: %s", row.Index, row.Replica, row.Error)
			}
		}
	}
}

// Replica owns a ReplicatedLog. It is the only voter of its log, so an appended
// entry is committed immediately and handed to the driver for application.
type Replica struct {
	Name string
	Log  *ReplicatedLog
	Term Term

	proposeTx chan *proposal
	stateTx   chan Instruction
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewReplica(name string, log *ReplicatedLog) (*Replica, error) {
	term, err := log.GetTerm()
	if err != nil {
		return nil, err
	}
	term++
	if err = log.SetTerm(term); err != nil {
		return nil, errors.Wrap(err, "persist term")
	}
	return &Replica{
		Name:      name,
		Log:       log,
		Term:      term,
		proposeTx: make(chan *proposal),
		stateTx:   make(chan Instruction, 64),
		done:      make(chan struct{}),
	}, nil
}

// Start replays committed but unapplied entries through sm and then starts the
// event loop and the driver.
func (r *Replica) Start(ctx context.Context, sm StateMachine) error {
	applyCtx := context.WithoutCancel(ctx)
	driver := &Driver{replica: r.Name, log: r.Log, notify: make(map[Index]*Feedback)}
	if err := driver.ApplyLog(applyCtx, sm); err != nil {
		return err
	}
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		driver.Drive(applyCtx, sm, r.stateTx)
	}()
	go func() {
		defer r.wg.Done()
		r.eventLoop()
	}()
	logger.Infow("replica started", "replica", r.Name, "term", r.Term, "applied", r.Log.GetAppliedIndex())
	return nil
}

// Propose appends command to the log. The returned Feedback reports when the
// entry has been applied.
func (r *Replica) Propose(ctx context.Context, command []byte) (*Feedback, error) {
	responseRx := make(chan proposalResult, 1)
	select {
	case <-r.done:
		return nil, ddlerr.New(ddlerr.Replication, "replica %s is closed", r.Name)
	case <-ctx.Done():
		return nil, ctx.Err()
	case r.proposeTx <- &proposal{command: command, responseTx: responseRx}:
	}
	result := <-responseRx
	return result.feedback, result.err
}

func (r *Replica) eventLoop() {
	defer close(r.stateTx)
	for {
		select {
		case <-r.done:
			return
		case p := <-r.proposeTx:
			feedback, entry, err := r.append(p.command)
			p.responseTx <- proposalResult{feedback: feedback, err: err}
			if err != nil {
				continue
			}
			r.stateTx <- &Notify{Index: entry.Index, Feedback: feedback}
			r.stateTx <- &Apply{Entry: entry}
		}
	}
}

func (r *Replica) append(command []byte) (*Feedback, *Entry, error) {
	index, err := r.Log.Append(r.Term, command)
	if err != nil {
		metrics.LogEntries.WithLabelValues(r.Name, StatusFailed.String()).Inc()
		return nil, nil, ddlerr.New(ddlerr.Replication, "append to %s: %v", r.Name, err)
	}
	feedback := newFeedback(uuid.New(), index)
	feedback.rows <- FeedbackRow{Replica: r.Name, ID: feedback.ID, Index: index, Status: StatusProposed}
	metrics.LogEntries.WithLabelValues(r.Name, StatusProposed.String()).Inc()

	if err = r.Log.Commit(index); err != nil {
		metrics.LogEntries.WithLabelValues(r.Name, StatusFailed.String()).Inc()
		return nil, nil, ddlerr.New(ddlerr.Replication, "commit %d on %s: %v", index, r.Name, err)
	}
	feedback.rows <- FeedbackRow{Replica: r.Name, ID: feedback.ID, Index: index, Status: StatusCommitted}
	metrics.LogEntries.WithLabelValues(r.Name, StatusCommitted.String()).Inc()
	logger.Debugw("entry committed", "replica", r.Name, "index", index, "term", r.Term)
	return feedback, &Entry{Index: index, Term: r.Term, Command: command}, nil
}

func (r *Replica) Status() *ReplicaStatus {
	lastIndex, _ := r.Log.GetLastIndex()
	commitIndex, _ := r.Log.GetCommitIndex()
	status := &ReplicaStatus{
		Name:         r.Name,
		Term:         r.Term,
		LastIndex:    lastIndex,
		CommitIndex:  commitIndex,
		AppliedIndex: r.Log.GetAppliedIndex(),
	}
	if s := r.Log.Status(); s != nil {
		status.Storage = s.Name
		status.StorageSize = s.Size
		status.FileName = s.FileName
	}
	return status
}

// Stop makes the replica refuse new proposals without waiting for queued entries.
func (r *Replica) Stop() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}

// Close stops the replica and waits for queued entries to be applied.
func (r *Replica) Close() {
	r.Stop()
	r.wg.Wait()
}

// Driver applies committed entries and resolves their Feedback.
type Driver struct {
	replica string
	log     *ReplicatedLog
	notify  map[Index]*Feedback
}

func (driver *Driver) ApplyLog(ctx context.Context, sm StateMachine) error {
	appliedIndex := driver.log.GetAppliedIndex()
	commitIndex, _ := driver.log.GetCommitIndex()
	if appliedIndex >= commitIndex {
		return nil
	}
	entries, err := driver.log.Scan(appliedIndex+1, commitIndex)
	if err != nil {
		return err
	}
	logger.Infow("replaying log", "replica", driver.replica, "from", appliedIndex+1, "to", commitIndex)
	for _, entry := range entries {
		driver.Apply(ctx, sm, entry)
	}
	return nil
}

func (driver *Driver) Drive(ctx context.Context, sm StateMachine, stateRx <-chan Instruction) {
	for instruction := range stateRx {
		driver.Execute(ctx, sm, instruction)
	}
	driver.NotifyAbort()
}

func (driver *Driver) Execute(ctx context.Context, sm StateMachine, i Instruction) {
	switch v := i.(type) {
	case *Notify:
		driver.notify[v.Index] = v.Feedback
	case *Apply:
		driver.Apply(ctx, sm, v.Entry)
	}
}

// Apply runs one entry. A failed entry still advances the applied index: the
// failure is deterministic and is reported through the Feedback.
func (driver *Driver) Apply(ctx context.Context, sm StateMachine, entry *Entry) {
	applyErr := sm.Apply(ctx, entry)
	if err := driver.log.SetApplied(entry.Index); err != nil {
		logger.Errorf("replica %s: persist applied index %d: %v", driver.replica, entry.Index, err)
	}

	row := FeedbackRow{Replica: driver.replica, Index: entry.Index, Status: StatusApplied}
	if applyErr != nil {
		row.Status = StatusFailed
		row.Error = applyErr.Error()
		logger.Warnw("log entry failed", "replica", driver.replica, "index", entry.Index, "error", applyErr)
	}
	metrics.LogEntries.WithLabelValues(driver.replica, row.Status.String()).Inc()

	feedback, ok := driver.notify[entry.Index]
	if !ok {
		return
	}
	delete(driver.notify, entry.Index)
	row.ID = feedback.ID
	feedback.rows <- row
	close(feedback.rows)
}

func (driver *Driver) NotifyAbort() {
	for index, feedback := range driver.notify {
		feedback.rows <- FeedbackRow{
			Replica: driver.replica,
			ID:      feedback.ID,
			Index:   index,
			Status:  StatusFailed,
			Error:   "replica " + driver.replica + " closed before entry " + strconv.FormatUint(uint64(index), 10) + " was applied",
		}
		close(feedback.rows)
		delete(driver.notify, index)
	}
}
