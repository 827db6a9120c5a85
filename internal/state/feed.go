package state

import (
	"sync"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// Feed is the realtime feed buffer served to clients. Replace swaps the
// whole message atomically; readers serialize under the same mutex so they
// never observe a half-written feed.
type Feed struct {
	mu  sync.Mutex
	msg *gtfsrt.FeedMessage
}

func NewFeed() *Feed {
	return &Feed{msg: emptyMessage(time.Now())}
}

func emptyMessage(now time.Time) *gtfsrt.FeedMessage {
	return &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
	}
}

// Replace overwrites the feed with a fresh header and the given entities,
// dropping entities whose ID was already appended (insertion order wins).
func (f *Feed) Replace(entities []*gtfsrt.FeedEntity) {
	msg := emptyMessage(time.Now())
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		id := e.GetId()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		msg.Entity = append(msg.Entity, e)
	}

	f.mu.Lock()
	f.msg = msg
	f.mu.Unlock()
}

// Marshal serializes the current feed to wire format.
func (f *Feed) Marshal() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return proto.Marshal(f.msg)
}

// EntityCount reports how many entities the feed currently holds.
func (f *Feed) EntityCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msg.Entity)
}

// Timestamp returns the feed header timestamp.
func (f *Feed) Timestamp() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msg.GetHeader().GetTimestamp()
}
