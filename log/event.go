package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// EventRecord is one structured allocation event. Fields keep the order in
// which they were logged.
type EventRecord struct {
	Seq    int
	Kind   string
	Fields []EventField
}

type EventField struct {
	Key   string
	Value interface{}
}

// Get returns the value logged under key, or nil.
func (e EventRecord) Get(key string) interface{} {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

// Custom JSON marshaling to preserve field order.
func (e EventRecord) MarshalJSON() ([]byte, error) {
	buf := &bytes.Buffer{}
	writeField := func(key string, val interface{}) error {
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(b)
		return nil
	}
	buf.WriteByte('{')
	if err := writeField("seq", e.Seq); err != nil {
		return nil, err
	}
	if err := writeField("event", e.Kind); err != nil {
		return nil, err
	}
	for _, f := range e.Fields {
		if err := writeField(f.Key, f.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

var events struct {
	sync.Mutex
	on      bool
	records []EventRecord
}

// RecordEvents turns event recording on or off. Turning it on clears what was
// recorded before.
func RecordEvents(on bool) {
	events.Lock()
	defer events.Unlock()
	events.on = on
	if on {
		events.records = events.records[:0]
	}
}

// Event records a structured event when recording is on.
func Event(kind string, kv ...interface{}) {
	events.Lock()
	defer events.Unlock()
	if !events.on {
		return
	}
	rec := EventRecord{Seq: len(events.records), Kind: kind}
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		var val interface{}
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		rec.Fields = append(rec.Fields, EventField{Key: key, Value: val})
	}
	events.records = append(events.records, rec)
}

// RecordedEvents returns a copy of everything recorded so far.
func RecordedEvents() []EventRecord {
	events.Lock()
	defer events.Unlock()
	return append([]EventRecord(nil), events.records...)
}

// RecordedEventsJSON renders the recorded events as JSON lines.
func RecordedEventsJSON() ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range RecordedEvents() {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
