package queue

import (
	"sync"

	"github.com/ffstamp/ffstamp/internal/model"
)

// registry owns the canonical records for the process lifetime, keyed by job
// id and kept in insertion order for listing.
type registry struct {
	mx    sync.RWMutex
	byID  map[string]*record
	order []*record
}

func newRegistry() *registry {
	return &registry{
		byID: make(map[string]*record),
	}
}

func (r *registry) insert(rec *record) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.byID[rec.id] = rec
	r.order = append(r.order, rec)
}

func (r *registry) lookup(id string) (*record, error) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return rec, nil
}

func (r *registry) get(id string) (model.JobSnapshot, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return model.JobSnapshot{}, err
	}
	return rec.snapshot(), nil
}

// list returns snapshots in insertion order. Display ordering is the
// caller's concern.
func (r *registry) list() []model.JobSnapshot {
	r.mx.RLock()
	recs := append([]*record(nil), r.order...)
	r.mx.RUnlock()

	snaps := make([]model.JobSnapshot, 0, len(recs))
	for _, rec := range recs {
		snaps = append(snaps, rec.snapshot())
	}
	return snaps
}
