// Package taxonomy defines the three-axis classification space for user
// requests: where the result goes (destination), who consumes it (consumer),
// and how the request is acted on (semantics).
package taxonomy

import "fmt"

// Destination is where an operation's result lands.
type Destination string

const (
	DestinationStream  Destination = "stream"
	DestinationFile    Destination = "file"
	DestinationProcess Destination = "process"
)

// Consumer is who the result is produced for.
type Consumer string

const (
	ConsumerHuman   Consumer = "human"
	ConsumerMachine Consumer = "machine"
)

// Semantics is how the request is acted on.
type Semantics string

const (
	SemanticsRead      Semantics = "read"
	SemanticsInterpret Semantics = "interpret"
	SemanticsExecute   Semantics = "execute"
)

// Destinations lists all valid destination values in declaration order.
func Destinations() []Destination {
	return []Destination{DestinationStream, DestinationFile, DestinationProcess}
}

// Consumers lists all valid consumer values in declaration order.
func Consumers() []Consumer {
	return []Consumer{ConsumerHuman, ConsumerMachine}
}

// AllSemantics lists all valid semantics values in declaration order.
func AllSemantics() []Semantics {
	return []Semantics{SemanticsRead, SemanticsInterpret, SemanticsExecute}
}

// Valid reports whether d is a known destination.
func (d Destination) Valid() bool {
	switch d {
	case DestinationStream, DestinationFile, DestinationProcess:
		return true
	}
	return false
}

// Valid reports whether c is a known consumer.
func (c Consumer) Valid() bool {
	switch c {
	case ConsumerHuman, ConsumerMachine:
		return true
	}
	return false
}

// Valid reports whether s is a known semantics value.
func (s Semantics) Valid() bool {
	switch s {
	case SemanticsRead, SemanticsInterpret, SemanticsExecute:
		return true
	}
	return false
}

// ParseDestination converts a raw string to a Destination.
func ParseDestination(raw string) (Destination, error) {
	d := Destination(raw)
	if !d.Valid() {
		return "", fmt.Errorf("unknown destination %q", raw)
	}
	return d, nil
}

// ParseConsumer converts a raw string to a Consumer.
func ParseConsumer(raw string) (Consumer, error) {
	c := Consumer(raw)
	if !c.Valid() {
		return "", fmt.Errorf("unknown consumer %q", raw)
	}
	return c, nil
}

// ParseSemantics converts a raw string to a Semantics.
func ParseSemantics(raw string) (Semantics, error) {
	s := Semantics(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown semantics %q", raw)
	}
	return s, nil
}

// Classification is a point in the destination x consumer x semantics space,
// plus a boolean confidence gate. Values are immutable once produced; a
// revision replaces the whole value.
type Classification struct {
	Destination Destination `json:"destination"`
	Consumer    Consumer    `json:"consumer"`
	Semantics   Semantics   `json:"semantics"`
	Confident   bool        `json:"confident"`
}

// Valid reports whether all three axes hold known values.
func (c Classification) Valid() bool {
	return c.Destination.Valid() && c.Consumer.Valid() && c.Semantics.Valid()
}

// String renders the triple as "destination/consumer/semantics" for logs.
func (c Classification) String() string {
	confidence := "confident"
	if !c.Confident {
		confidence = "unsure"
	}
	return fmt.Sprintf("%s/%s/%s (%s)", c.Destination, c.Consumer, c.Semantics, confidence)
}

// Parse assembles a Classification from raw axis strings, rejecting any
// value outside the taxonomy.
func Parse(destination, consumer, semantics string, confident bool) (Classification, error) {
	d, err := ParseDestination(destination)
	if err != nil {
		return Classification{}, err
	}
	c, err := ParseConsumer(consumer)
	if err != nil {
		return Classification{}, err
	}
	s, err := ParseSemantics(semantics)
	if err != nil {
		return Classification{}, err
	}
	return Classification{Destination: d, Consumer: c, Semantics: s, Confident: confident}, nil
}
