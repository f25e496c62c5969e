package faults

import (
	"fmt"
	"time"

	toxiproxy "github.com/Shopify/toxiproxy/v2/client"
)

// Direction is the stream a toxic applies to, relative to the client.
type Direction string

const (
	// Upstream is client to server.
	Upstream Direction = "upstream"
	// Downstream is server to client.
	Downstream Direction = "downstream"
)

// Kind is a Toxiproxy toxic type.
type Kind string

const (
	// Latency delays data by Magnitude ms, ± Jitter ms.
	Latency Kind = "latency"
	// Bandwidth caps throughput at Magnitude KB/s.
	Bandwidth Kind = "bandwidth"
	// Timeout stops all data and closes the connection after Magnitude ms (0 = never).
	Timeout Kind = "timeout"
	// SlowClose delays the TCP close by Magnitude ms.
	SlowClose Kind = "slow_close"
	// LimitData closes the connection after Magnitude bytes.
	LimitData Kind = "limit_data"
	// ResetPeer resets the connection after Magnitude ms.
	ResetPeer Kind = "reset_peer"
)

// Toxic describes one network perturbation.
type Toxic struct {
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Kind      Kind      `json:"kind"`
	Magnitude int64     `json:"magnitude"`
	Jitter    int64     `json:"jitter,omitempty"`
	// Toxicity is the probability the toxic applies to a connection. Nil
	// means 1; an explicit 0 installs a toxic that never applies.
	Toxicity *float32 `json:"toxicity,omitempty"`
}

// Probability returns p as a Toxicity value.
func Probability(p float32) *float32 {
	return &p
}

// LatencyToxic builds a latency toxic delaying every packet by d.
func LatencyToxic(name string, dir Direction, d time.Duration) Toxic {
	return Toxic{Name: name, Direction: dir, Kind: Latency, Magnitude: d.Milliseconds()}
}

// Validate checks the toxic can be sent to the proxy.
func (t Toxic) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("toxic name is required")
	}
	switch t.Direction {
	case Upstream, Downstream:
	default:
		return fmt.Errorf("toxic %q: invalid direction %q", t.Name, t.Direction)
	}
	if _, ok := attributeKeys[t.Kind]; !ok {
		return fmt.Errorf("toxic %q: unsupported kind %q", t.Name, t.Kind)
	}
	if t.Magnitude < 0 || t.Jitter < 0 {
		return fmt.Errorf("toxic %q: magnitude and jitter must not be negative", t.Name)
	}
	if t.Jitter > 0 && t.Kind != Latency {
		return fmt.Errorf("toxic %q: jitter only applies to latency", t.Name)
	}
	if t.Toxicity != nil && (*t.Toxicity < 0 || *t.Toxicity > 1) {
		return fmt.Errorf("toxic %q: toxicity %.2f out of range [0,1]", t.Name, *t.Toxicity)
	}
	return nil
}

// attributeKeys maps each kind to the attribute carrying Magnitude.
var attributeKeys = map[Kind]string{
	Latency:   "latency",
	Bandwidth: "rate",
	Timeout:   "timeout",
	SlowClose: "delay",
	LimitData: "bytes",
	ResetPeer: "timeout",
}

// Attributes renders the kind-specific attributes Toxiproxy expects.
func (t Toxic) Attributes() toxiproxy.Attributes {
	attrs := toxiproxy.Attributes{attributeKeys[t.Kind]: t.Magnitude}
	if t.Kind == Latency {
		attrs["jitter"] = t.Jitter
	}
	return attrs
}

func (t Toxic) toxicity() float32 {
	if t.Toxicity == nil {
		return 1
	}
	return *t.Toxicity
}

// fromClient converts a toxic reported by Toxiproxy.
func fromClient(ct toxiproxy.Toxic) Toxic {
	t := Toxic{
		Name:      ct.Name,
		Direction: Direction(ct.Stream),
		Kind:      Kind(ct.Type),
		Toxicity:  Probability(ct.Toxicity),
	}
	if key, ok := attributeKeys[t.Kind]; ok {
		t.Magnitude = toInt64(ct.Attributes[key])
	}
	if t.Kind == Latency {
		t.Jitter = toInt64(ct.Attributes["jitter"])
	}
	return t
}

// toInt64 handles JSON-decoded numbers.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
