package realtime

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// channelRegistry maps topics to their channels. One topic can hold several
// channels; dispatch visits them in registration order. All access goes
// through the lock because the receive loop and callers run on different
// goroutines.
type channelRegistry struct {
	lock     sync.Mutex
	channels map[string][]*Channel
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{channels: make(map[string][]*Channel)}
}

func (registry *channelRegistry) register(topic string, channel *Channel) {
	registry.lock.Lock()
	registry.channels[topic] = append(registry.channels[topic], channel)
	registry.lock.Unlock()
}

func (registry *channelRegistry) remove(topic string, channel *Channel) {
	registry.lock.Lock()
	defer registry.lock.Unlock()
	current := registry.channels[topic]
	kept := make([]*Channel, 0, len(current))
	for _, candidate := range current {
		if candidate != channel {
			kept = append(kept, candidate)
		}
	}
	if len(kept) == 0 {
		delete(registry.channels, topic)
		return
	}
	registry.channels[topic] = kept
}

// channelsFor returns a snapshot of the channels registered for topic, in
// registration order. Dispatch iterates the snapshot so a concurrent
// register or remove never invalidates an in-flight walk.
func (registry *channelRegistry) channelsFor(topic string) []*Channel {
	registry.lock.Lock()
	defer registry.lock.Unlock()
	current := registry.channels[topic]
	if len(current) == 0 {
		return nil
	}
	out := make([]*Channel, len(current))
	copy(out, current)
	return out
}

// topics returns the registered topics, sorted.
func (registry *channelRegistry) topics() []string {
	registry.lock.Lock()
	defer registry.lock.Unlock()
	out := make([]string, 0, len(registry.channels))
	for topic := range registry.channels {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// summaryLines renders one line per registered channel with its listener
// event names, topics sorted, channels in registration order.
func (registry *channelRegistry) summaryLines() []string {
	registry.lock.Lock()
	snapshot := make(map[string][]*Channel, len(registry.channels))
	for topic, channels := range registry.channels {
		copied := make([]*Channel, len(channels))
		copy(copied, channels)
		snapshot[topic] = copied
	}
	registry.lock.Unlock()

	topics := make([]string, 0, len(snapshot))
	for topic := range snapshot {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	lines := make([]string, 0, len(topics))
	for _, topic := range topics {
		for _, channel := range snapshot[topic] {
			lines = append(lines, fmt.Sprintf("topic: %s | events: [%s]", topic, strings.Join(channel.events(), ", ")))
		}
	}
	return lines
}
