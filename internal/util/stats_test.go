package util

import (
	"strings"
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
	}

	for _, tc := range testCases {
		if got := formatBytes(tc.in); got != tc.want {
			t.Errorf("formatBytes(%v) = %q, want %q", tc.in, got, tc.want)
		}
		if got := formatBytes(tc.in); len(got) != 8 {
			t.Errorf("formatBytes(%v) = %q is not 8 chars", tc.in, got)
		}
	}
}

func TestFormatDelta(t *testing.T) {
	prev := Snapshot{MsgsSent: 1, MsgsRecv: 2, BytesSent: 100, BytesRecv: 200}

	if _, ok := formatDelta(prev, prev, time.Second); ok {
		t.Error("quiet interval should not be reported")
	}

	cur := Snapshot{MsgsSent: 3, MsgsRecv: 2, BytesSent: 120, BytesRecv: 200}
	line, ok := formatDelta(prev, cur, 10*time.Second)
	if !ok {
		t.Fatal("active interval not reported")
	}
	if !strings.Contains(line, "  0↓   2↑") {
		t.Errorf("unexpected message counts in %q", line)
	}
	if !strings.Contains(line, "Out:  2.0   B/s") {
		t.Errorf("unexpected out rate in %q", line)
	}
}

func TestStatsCounters(t *testing.T) {
	var s stats
	s.AddSent(10)
	s.AddSent(5)
	s.AddRecv(7)
	s.AddDial()

	got := s.Snapshot()
	want := Snapshot{MsgsSent: 2, MsgsRecv: 1, BytesSent: 15, BytesRecv: 7, Dials: 1}
	if got != want {
		t.Errorf("Snapshot = %+v, want %+v", got, want)
	}
}
