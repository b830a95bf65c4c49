package audit

import (
	"context"
	"errors"
)

// MultiStore appends each event to every store. All stores are attempted;
// failures are joined. ListBySubject uses the first store that is a Lister.
type MultiStore []Store

func (m MultiStore) Append(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiStore) ListBySubject(ctx context.Context, subject string) ([]Event, error) {
	for _, s := range m {
		if l, ok := s.(Lister); ok {
			return l.ListBySubject(ctx, subject)
		}
	}
	return nil, errors.New("no audit store supports listing")
}
