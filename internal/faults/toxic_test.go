package faults

import (
	"encoding/json"
	"testing"
	"time"

	toxiproxy "github.com/Shopify/toxiproxy/v2/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToxic_Attributes(t *testing.T) {
	tests := []struct {
		kind Kind
		want toxiproxy.Attributes
	}{
		{Latency, toxiproxy.Attributes{"latency": int64(250), "jitter": int64(0)}},
		{Bandwidth, toxiproxy.Attributes{"rate": int64(250)}},
		{Timeout, toxiproxy.Attributes{"timeout": int64(250)}},
		{SlowClose, toxiproxy.Attributes{"delay": int64(250)}},
		{LimitData, toxiproxy.Attributes{"bytes": int64(250)}},
		{ResetPeer, toxiproxy.Attributes{"timeout": int64(250)}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			toxic := Toxic{Name: "t", Direction: Upstream, Kind: tt.kind, Magnitude: 250}
			assert.NoError(t, toxic.Validate())
			assert.Equal(t, tt.want, toxic.Attributes())
		})
	}
}

func TestLatencyToxic(t *testing.T) {
	toxic := LatencyToxic("extra_latency", Upstream, 13*time.Second)
	assert.Equal(t, Toxic{Name: "extra_latency", Direction: Upstream, Kind: Latency, Magnitude: 13000}, toxic)
	assert.Equal(t, float32(1), toxic.toxicity())
}

func TestToxic_Validate(t *testing.T) {
	valid := Toxic{Name: "t", Direction: Downstream, Kind: Latency, Magnitude: 10}

	tests := []struct {
		name   string
		mutate func(*Toxic)
	}{
		{"no name", func(t *Toxic) { t.Name = "" }},
		{"bad direction", func(t *Toxic) { t.Direction = "both" }},
		{"unknown kind", func(t *Toxic) { t.Kind = "slicer2" }},
		{"negative magnitude", func(t *Toxic) { t.Magnitude = -1 }},
		{"jitter on bandwidth", func(t *Toxic) { t.Kind = Bandwidth; t.Jitter = 5 }},
		{"toxicity above one", func(t *Toxic) { t.Toxicity = Probability(1.5) }},
		{"negative toxicity", func(t *Toxic) { t.Toxicity = Probability(-0.1) }},
	}

	assert.NoError(t, valid.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toxic := valid
			tt.mutate(&toxic)
			assert.Error(t, toxic.Validate())
		})
	}
}

func TestFromClient(t *testing.T) {
	got := fromClient(toxiproxy.Toxic{
		Name:       "cut",
		Type:       "limit_data",
		Stream:     "downstream",
		Toxicity:   0.25,
		Attributes: toxiproxy.Attributes{"bytes": float64(4096)},
	})
	assert.Equal(t, Toxic{Name: "cut", Direction: Downstream, Kind: LimitData, Magnitude: 4096, Toxicity: Probability(0.25)}, got)
}

func TestToxic_Toxicity(t *testing.T) {
	toxic := LatencyToxic("extra_latency", Upstream, time.Second)
	assert.Equal(t, float32(1), toxic.toxicity(), "unset applies to every connection")

	toxic.Toxicity = Probability(0)
	assert.NoError(t, toxic.Validate())
	assert.Equal(t, float32(0), toxic.toxicity(), "explicit zero is kept")

	var decoded Toxic
	require.NoError(t, json.Unmarshal([]byte(`{"name":"idle","direction":"upstream","kind":"latency","magnitude":10,"toxicity":0}`), &decoded))
	require.NotNil(t, decoded.Toxicity)
	assert.Equal(t, float32(0), decoded.toxicity())
}
