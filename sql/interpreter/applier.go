package interpreter

import (
	"context"

	"cabbageDDL/log"
	"cabbageDDL/sql/catalog"
)

// LogApplier applies the entries of replicated logs through the interpreter.
type LogApplier struct {
	Interpreter *Interpreter
}

func (a *LogApplier) Apply(ctx context.Context, entry *log.Entry) error {
	mutation, err := catalog.DecodeMutation(entry.Command)
	if err != nil {
		return err
	}
	stmt := mutation.Stmt
	// The applier must not stall the log behind a reclamation.
	stmt.NoWait = true
	qctx := &QueryContext{
		QueryID: mutation.QueryID,
		User:    mutation.User,
		Kind:    QueryKindReplicatedLog,
		Settings: Settings{
			LockAcquireTimeout: a.Interpreter.Settings.LockAcquireTimeout,
		},
	}
	_, err = a.Interpreter.Execute(ctx, qctx, &stmt)
	return err
}
