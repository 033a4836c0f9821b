package audit

import "context"

// Store persists audit entries. Append-only: there is no update or delete.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	// AppendPair writes two entries atomically, used by publish/rollback to
	// record the archive of the displaced record and the activation of the
	// new one as an indivisible pair.
	AppendPair(ctx context.Context, first, second Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
}
