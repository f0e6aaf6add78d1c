package transport

import (
	"fmt"
	"strings"
)

// RequestPriority is the caller's abstract request priority, lowest first.
type RequestPriority int

const (
	PriorityThrottled RequestPriority = iota
	PriorityIdle
	PriorityLowest
	PriorityLow
	PriorityMedium
	PriorityHighest

	MinimumPriority = PriorityThrottled
	MaximumPriority = PriorityHighest
)

// Urgency is the transport's stream priority. 0 is the most urgent and
// MaxUrgency the least, as in RFC 9218.
type Urgency uint8

// MaxUrgency is the largest Urgency a stream accepts.
const MaxUrgency Urgency = 7

// priorityTable maps every RequestPriority to its stream urgency. The
// mapping is fixed so that two requests with the same priority always land
// in the same transport bucket.
var priorityTable = [...]struct {
	name    string
	urgency Urgency
}{
	PriorityThrottled: {"THROTTLED", 5},
	PriorityIdle:      {"IDLE", 4},
	PriorityLowest:    {"LOWEST", 3},
	PriorityLow:       {"LOW", 2},
	PriorityMedium:    {"MEDIUM", 1},
	PriorityHighest:   {"HIGHEST", 0},
}

// String returns the configuration name of the priority.
func (p RequestPriority) String() string {
	if p < MinimumPriority || p > MaximumPriority {
		return fmt.Sprintf("PRIORITY_%d", int(p))
	}
	return priorityTable[p].name
}

// ParseRequestPriority parses a priority name such as "MEDIUM". Matching is
// case-insensitive.
func ParseRequestPriority(s string) (RequestPriority, error) {
	for p := MinimumPriority; p <= MaximumPriority; p++ {
		if strings.EqualFold(priorityTable[p].name, s) {
			return p, nil
		}
	}
	return MinimumPriority, fmt.Errorf("unknown request priority %q", s)
}

// ConvertRequestPriority maps a request priority to the stream urgency.
// Out of range priorities are clamped.
func ConvertRequestPriority(p RequestPriority) Urgency {
	if p < MinimumPriority {
		p = MinimumPriority
	}
	if p > MaximumPriority {
		p = MaximumPriority
	}
	return priorityTable[p].urgency
}

// ConvertUrgency is the inverse of ConvertRequestPriority. Urgencies no
// priority maps to collapse onto the lowest priority.
func ConvertUrgency(u Urgency) RequestPriority {
	for p := MaximumPriority; p >= MinimumPriority; p-- {
		if priorityTable[p].urgency == u {
			return p
		}
	}
	return MinimumPriority
}
