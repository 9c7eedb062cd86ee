package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/orchard-market/api/internal/platform/firestore"
	"github.com/orchard-market/api/internal/repositories"
)

const countersCollection = "counters"

// sequenceDoc is the persisted state of one named counter. Step is remembered
// so callers that pass step 0 reuse the configured increment.
type sequenceDoc struct {
	Value     int64     `firestore:"value"`
	Step      int64     `firestore:"step"`
	Max       *int64    `firestore:"max,omitempty"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d sequenceDoc) increment(step int64) int64 {
	if step > 0 {
		return step
	}
	if d.Step > 0 {
		return d.Step
	}
	return 1
}

// CounterRepository allocates monotonically increasing sequence numbers,
// such as order numbers, through Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[sequenceDoc]
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[sequenceDoc](provider, countersCollection),
	}, nil
}

func counterID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	return id, nil
}

// Next atomically advances the counter identified by counterID and returns
// the allocated value. A zero step uses the step stored on the counter.
func (r *CounterRepository) Next(ctx context.Context, rawID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id, err := counterID(rawID)
	if err != nil {
		return 0, err
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	var allocated int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.Doc(ctx, id)
		if err != nil {
			return err
		}

		var doc sequenceDoc
		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			if err := snapshot.DataTo(&doc); err != nil {
				return fmt.Errorf("firestore counters decode %s: %w", id, err)
			}
		case codes.NotFound:
			// First allocation creates the counter document.
		default:
			return err
		}

		increment := doc.increment(step)
		allocated = doc.Value + increment
		if doc.Max != nil && allocated > *doc.Max {
			return repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value %d", id, *doc.Max), nil)
		}

		return tx.Set(ref, sequenceDoc{
			Value:     allocated,
			Step:      increment,
			Max:       doc.Max,
			UpdatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return allocated, nil
}

// Configure updates optional settings for the counter such as step size,
// max value, or initial value.
func (r *CounterRepository) Configure(ctx context.Context, rawID string, cfg repositories.CounterConfig) error {
	if r == nil || r.provider == nil {
		return errors.New("counter repository not initialised")
	}
	id, err := counterID(rawID)
	if err != nil {
		return err
	}

	patch := map[string]any{"updatedAt": time.Now().UTC()}
	if cfg.Step > 0 {
		patch["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		patch["max"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		patch["value"] = *cfg.InitialValue
	}

	ref, err := r.counters.Doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, patch, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)
