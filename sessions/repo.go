package sessions

import "context"

// Repo persists a single session for one storage scope.
type Repo interface {
	// Save replaces every persisted key with the session's values in one step
	Save(ctx context.Context, session Session) error

	// Load returns the persisted session or errors.ErrNotFound when nothing is stored
	Load(ctx context.Context) (Session, error)

	// Clear removes every persisted key. Clearing an empty repo is not an error.
	Clear(ctx context.Context) error
}
