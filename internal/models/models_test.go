package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriorityForPlan(t *testing.T) {
	testCases := []struct {
		plan     string
		expected TaskPriority
	}{
		{"vip", PriorityHigh},
		{"VIP", PriorityHigh},
		{"premium", PriorityMedium},
		{"Premium", PriorityMedium},
		{"free", PriorityLow},
		{"", PriorityLow},
		{"something-new", PriorityLow},
	}

	for _, tc := range testCases {
		t.Run(tc.plan, func(t *testing.T) {
			assert.Equal(t, tc.expected, PriorityForPlan(tc.plan))
		})
	}
}

func TestDedupKey(t *testing.T) {
	a := DownloadTask{Url: "https://example.com/v/1", Requester: 42, Format: "mp3"}
	b := DownloadTask{Url: "https://example.com/v/1", Requester: 42, Format: "mp3", Video: true}
	c := DownloadTask{Url: "https://example.com/v/1", Requester: 43, Format: "mp3"}

	assert.Equal(t, a.DedupKey(), b.DedupKey(), "video flag must not affect dedup")
	assert.NotEqual(t, a.DedupKey(), c.DedupKey(), "different requesters are different tasks")
}

func TestTimeRangeSection(t *testing.T) {
	r := TimeRange{Start: 90 * time.Second, End: 165 * time.Second}
	assert.Equal(t, "*00:01:30-00:02:45", r.Section())

	long := TimeRange{Start: time.Hour + 2*time.Minute, End: 2 * time.Hour}
	assert.Equal(t, "*01:02:00-02:00:00", long.Section())
}
