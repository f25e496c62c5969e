package fixture

import "fmt"

// State is the lifecycle stage of a Fixture.
type State int

const (
	NotStarted State = iota
	EnvironmentReady
	SchemaReady
	FaultInjected
	Asserted
	Closed
)

var stateNames = map[State]string{
	NotStarted:       "NotStarted",
	EnvironmentReady: "EnvironmentReady",
	SchemaReady:      "SchemaReady",
	FaultInjected:    "FaultInjected",
	Asserted:         "Asserted",
	Closed:           "Closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state name, for JSON status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the legal successors of each state. Closed is reachable
// from every state and handled by Close.
var transitions = map[State][]State{
	NotStarted:       {EnvironmentReady},
	EnvironmentReady: {SchemaReady},
	SchemaReady:      {FaultInjected, Asserted},
	FaultInjected:    {FaultInjected, Asserted},
	Asserted:         {FaultInjected, Asserted},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	if next == Closed {
		return s != Closed
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
