// Package registry tracks which order ids on a venue belong to this bot.
// Humans trade on the same accounts, so the reconciliation loop must never
// touch an order it cannot prove it placed. The set is persisted in a WAL
// and replayed on startup, surviving crashes between placement and tracking.
package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	defaultDir       = "./wal/orders"
	segmentThreshold = 1000
	maxSegments      = 100
	recordKeyPrefix  = "order_"
)

type record struct {
	Venue   string `json:"venue"`
	Pair    string `json:"pair"`
	OrderID string `json:"order_id"`
	Removed bool   `json:"removed,omitempty"`
}

// Registry is a persistent set of bot-owned order ids, keyed by venue and pair.
type Registry struct {
	mu    sync.RWMutex
	wal   *gowal.Wal
	owned map[string]struct{}
}

func New(dir string) (*Registry, error) {
	if dir == "" {
		dir = defaultDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "log_",
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init order registry WAL")
	}

	r := &Registry{wal: wal, owned: make(map[string]struct{})}
	for msg := range wal.Iterator() {
		var rec record
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			return nil, errors.Wrap(err, "decode order registry record")
		}
		if rec.Removed {
			delete(r.owned, setKey(rec.Venue, rec.Pair, rec.OrderID))
		} else {
			r.owned[setKey(rec.Venue, rec.Pair, rec.OrderID)] = struct{}{}
		}
	}
	return r, nil
}

// Add marks an order id as bot-owned. Call it right after a successful
// placement, before anything else can fail.
func (r *Registry) Add(venue, pair, orderID string) error {
	return r.append(record{Venue: venue, Pair: pair, OrderID: orderID})
}

// Remove forgets an order id once it is cancelled or fully resolved.
func (r *Registry) Remove(venue, pair, orderID string) error {
	return r.append(record{Venue: venue, Pair: pair, OrderID: orderID, Removed: true})
}

func (r *Registry) append(rec record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal order registry record")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := setKey(rec.Venue, rec.Pair, rec.OrderID)
	if err := r.wal.Write(r.wal.CurrentIndex()+1, recordKeyPrefix+key, payload); err != nil {
		return errors.Wrap(err, "write order registry record")
	}
	if rec.Removed {
		delete(r.owned, key)
	} else {
		r.owned[key] = struct{}{}
	}
	return nil
}

// Owns reports whether the order id was placed by this bot.
func (r *Registry) Owns(venue, pair, orderID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.owned[setKey(venue, pair, orderID)]
	return ok
}

// Size returns the number of currently tracked order ids.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owned)
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wal.Close()
}

func setKey(venue, pair, orderID string) string {
	return fmt.Sprintf("%s/%s/%s", venue, pair, orderID)
}
