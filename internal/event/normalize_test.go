package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onvifeye/onvifeye/internal/onvif"
)

func rawWith(items ...onvif.SimpleItem) onvif.RawNotification {
	return onvif.RawNotification{
		Topic:   "tns1:RuleEngine/CellMotionDetector/Motion",
		UtcTime: time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC),
		Items:   items,
	}
}

func TestNormalizeMultipleDetections(t *testing.T) {
	n := NewNormalizer("c1", "")

	out := n.Normalize(rawWith(
		onvif.SimpleItem{Name: "IsPeople", Value: "true"},
		onvif.SimpleItem{Name: "IsCar", Value: "false"},
	))

	require.Len(t, out, 2)
	assert.Equal(t, "IsPeople", out[0].Name)
	assert.Equal(t, Assert, out[0].Kind)
	assert.Equal(t, "IsCar", out[1].Name)
	assert.Equal(t, Negate, out[1].Kind)
	assert.Equal(t, "c1", out[0].CameraID)
}

func TestNormalizeDropsMalformedItems(t *testing.T) {
	n := NewNormalizer("c1", "")

	out := n.Normalize(rawWith(
		onvif.SimpleItem{Name: "", Value: "true"},
		onvif.SimpleItem{Name: "IsPeople", Value: "maybe"},
		onvif.SimpleItem{Name: "IsCar", Value: "true"},
	))

	require.Len(t, out, 1)
	assert.Equal(t, "IsCar", out[0].Name)
}

func TestNormalizeFalseSuffix(t *testing.T) {
	n := NewNormalizer("c1", "")

	out := n.Normalize(rawWith(onvif.SimpleItem{Name: "IsPeople_False", Value: "true"}))
	require.Len(t, out, 1)
	assert.Equal(t, "IsPeople", out[0].Name)
	assert.Equal(t, Negate, out[0].Kind)
}

func TestNormalizeModelAliases(t *testing.T) {
	tapo := NewNormalizer("c1", "Tapo C225")
	out := tapo.Normalize(rawWith(onvif.SimpleItem{Name: "IsPerson", Value: "true"}))
	require.Len(t, out, 1)
	assert.Equal(t, "IsPeople", out[0].Name, "model alias should canonicalize the item name")

	// Unknown model keeps names as-is.
	other := NewNormalizer("c1", "acme-9000")
	out = other.Normalize(rawWith(onvif.SimpleItem{Name: "IsPerson", Value: "true"}))
	require.Len(t, out, 1)
	assert.Equal(t, "IsPerson", out[0].Name)
}

func TestNormalizeFillsMissingTimestamp(t *testing.T) {
	n := NewNormalizer("c1", "")
	raw := onvif.RawNotification{Items: []onvif.SimpleItem{{Name: "IsPeople", Value: "true"}}}

	out := n.Normalize(raw)
	require.Len(t, out, 1)
	assert.WithinDuration(t, time.Now(), out[0].Timestamp, 5*time.Second)
}
