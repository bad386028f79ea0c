package backend

import (
	"sort"
	"sync"
	"time"
)

// documents is the in-process record store shared by the memory, vector
// and graph adapters.
type documents struct {
	mu   sync.RWMutex
	data map[string]map[string]Record
	now  func() time.Time
}

func newDocuments() *documents {
	return &documents{
		data: make(map[string]map[string]Record),
		now:  time.Now,
	}
}

func (d *documents) get(collection, id string) (Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	record, ok := d.data[collection][id]
	if !ok {
		return Record{}, notFound(collection, id)
	}
	return record, nil
}

func (d *documents) put(collection, id string, document map[string]any) Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	records, ok := d.data[collection]
	if !ok {
		records = make(map[string]Record)
		d.data[collection] = records
	}

	record := Record{Collection: collection, ID: id, Document: document, UpdatedAt: d.now()}
	records[id] = record
	return record
}

func (d *documents) delete(collection, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.data[collection][id]; !ok {
		return false
	}
	delete(d.data[collection], id)
	return true
}

// list returns the records of a collection sorted by id.
func (d *documents) list(collection string) []Record {
	d.mu.RLock()
	records := make([]Record, 0, len(d.data[collection]))
	for _, record := range d.data[collection] {
		records = append(records, record)
	}
	d.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	return records
}

func (d *documents) search(collection, text string, limit int) []Record {
	matches := make([]Record, 0)
	for _, record := range d.list(collection) {
		if len(matches) == limit {
			break
		}
		if matchesText(record.Document, text) {
			matches = append(matches, record)
		}
	}
	return matches
}

func (d *documents) size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, records := range d.data {
		n += len(records)
	}
	return n
}
