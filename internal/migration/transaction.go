package migration

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TransactionOp is one step of a transactional batch. Failure is signalled
// either by a non-nil error or by a Result with Success=false.
type TransactionOp func(ctx context.Context) (*Result, error)

// ExecuteInTransaction runs the operations inside one atomic session. The
// first operation reporting failure aborts the whole batch; nothing is
// committed. Successful results are concatenated into one aggregate Result.
//
// This is the only construct in the engine offering true atomicity, and the
// atomicity is scoped to the supplied operations, not to a whole migration
// run.
func (o *Operations) ExecuteInTransaction(ctx context.Context, ops []TransactionOp) *Result {
	start := time.Now()

	if len(ops) == 0 {
		return Ok(0, "no operations supplied", time.Since(start))
	}

	session, err := o.db.Client().StartSession()
	if err != nil {
		return Fail(NewError(ErrTransaction, "failed to start session").WithCause(err), time.Since(start))
	}
	defer session.EndSession(ctx)

	var affected int64
	var messages []string

	_, err = session.WithTransaction(ctx, func(txnCtx context.Context) (any, error) {
		affected = 0
		messages = messages[:0]

		for i, op := range ops {
			res, err := op(txnCtx)
			if err != nil {
				return nil, fmt.Errorf("operation %d failed: %w", i+1, err)
			}
			if res.Failed() {
				return nil, fmt.Errorf("operation %d failed: %s", i+1, res.ErrorMessage())
			}

			affected += res.DocumentsAffected
			if res.Message != "" {
				messages = append(messages, res.Message)
			}
		}
		return nil, nil
	})
	if err != nil {
		return Fail(NewError(ErrTransaction, "transaction aborted").WithCause(err), time.Since(start))
	}

	return Ok(affected, strings.Join(messages, "; "), time.Since(start))
}
