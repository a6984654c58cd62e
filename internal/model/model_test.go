package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status Status
		want   string
	}{
		{StatusActive, "active"},
		{StatusChecking, "checking"},
		{StatusRemoved, "removed"},
		{StatusExpired, "expired"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, string(tt.status))
			got, err := ParseStatus(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.status, got)
		})
	}

	_, err := ParseStatus("deleted")
	assert.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusActive, StatusChecking, true},
		{StatusChecking, StatusActive, true},
		{StatusChecking, StatusRemoved, true},
		{StatusActive, StatusExpired, true},
		{StatusRemoved, StatusExpired, true},
		{StatusRemoved, StatusActive, false},
		{StatusRemoved, StatusChecking, false},
		{StatusExpired, StatusActive, false},
		{StatusActive, StatusRemoved, false},
		{StatusActive, StatusActive, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStoredRecord_RemovedNeverActive(t *testing.T) {
	t.Parallel()

	r := &StoredRecord{Status: StatusRemoved}
	assert.False(t, r.Transition(StatusActive))
	assert.False(t, r.Transition(StatusChecking))
	assert.Equal(t, StatusRemoved, r.Status)
	assert.True(t, r.Transition(StatusExpired))
}

func TestStoredRecord_AddSource(t *testing.T) {
	t.Parallel()

	r := &StoredRecord{}
	assert.True(t, r.AddSource("LinkedIn"))
	assert.True(t, r.AddSource("Indeed"))
	assert.False(t, r.AddSource("linkedin"))
	assert.False(t, r.AddSource("  "))

	assert.Equal(t, []string{"Indeed", "LinkedIn"}, r.DedupSources)
	assert.Equal(t, 2, r.DedupCount)
}

func TestStoredRecord_AddSourceOrderIndependent(t *testing.T) {
	t.Parallel()

	orders := [][]string{
		{"A", "B", "C"},
		{"C", "A", "B"},
		{"B", "C", "A", "B"},
	}
	for _, order := range orders {
		r := &StoredRecord{}
		for _, p := range order {
			r.AddSource(p)
		}
		assert.Equal(t, []string{"A", "B", "C"}, r.DedupSources)
		assert.Equal(t, 3, r.DedupCount)
	}
}

func TestLocationString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Austin, US", Location{Country: "US", City: "Austin"}.String())
	assert.Equal(t, "US", Location{Country: "US"}.String())
	assert.Equal(t, "Austin", Location{City: "Austin"}.String())
	assert.Equal(t, "", Location{}.String())
}

func TestValidationError(t *testing.T) {
	t.Parallel()

	err := &ValidationError{Reasons: []ErrorKind{ErrTitleMissing, ErrDescriptionTooShort}}
	assert.Equal(t, "validation failed: TitleMissing, DescriptionTooShort", err.Error())
	assert.True(t, err.Has(ErrDescriptionTooShort))
	assert.False(t, err.Has(ErrSpamDetected))
}

func TestRunDuration(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Run{StartedAt: start}
	assert.Zero(t, r.Duration())

	end := start.Add(90 * time.Second)
	r.FinishedAt = &end
	assert.Equal(t, 90*time.Second, r.Duration())
}

func TestCanonicalPosting_ClassificationText(t *testing.T) {
	t.Parallel()

	p := CanonicalPosting{Description: "short", FullDescription: "short and long"}
	assert.Equal(t, "short and long", p.ClassificationText())
	p.FullDescription = ""
	assert.Equal(t, "short", p.ClassificationText())
}

func TestLocation_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want Location
	}{
		{"object", `{"country":"US","city":"Austin"}`, Location{Country: "US", City: "Austin"}},
		{"flat city and country", `"Berlin, DE"`, Location{Country: "DE", City: "Berlin"}},
		{"flat with region", `"Austin, TX, US"`, Location{Country: "US", City: "Austin"}},
		{"flat city only", `"Remote"`, Location{City: "Remote"}},
		{"null", `null`, Location{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got Location
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}

	var bad Location
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}
