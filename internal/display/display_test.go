package display

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lego-hub-manager/internal/fleet"
	"lego-hub-manager/internal/hub"
)

func testSnapshot() fleet.Snapshot {
	return fleet.Snapshot{
		Slots: []fleet.SlotSnapshot{
			{Index: 0, Address: hub.Address("90:84:2b:00:00:01"), Name: "Cargo", Channel: 2, Connected: true, Battery: 87},
			{Index: 1, Address: hub.Address("90:84:2b:00:00:02"), Channel: 2, Connected: true, Battery: 40, IsRemote: true},
		},
		Speeds: []int8{0, 0, -35},
		Sessions: []fleet.SessionSnapshot{
			{ID: 0, State: fleet.StateOperating, Slot: 0},
			{ID: 1, State: fleet.StateOperating, Slot: 1},
			{ID: 2, State: fleet.StateScanning, Slot: -1},
		},
		Connected: 2,
	}
}

func TestRender(t *testing.T) {
	out := NewRenderer().Render(testSnapshot())
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 5)

	for _, title := range []string{"Tsk#", "Speed", "Name", "Address", "Battery", "State"} {
		assert.Contains(t, lines[0], title)
	}

	hubRow := strings.Fields(lines[1])
	assert.Equal(t, []string{"0", "-35", "Cargo", "90:84:2b:00:00:01", "87%", "operating"}, hubRow)

	remoteRow := strings.Fields(lines[2])
	assert.Equal(t, []string{"1", "R", "90:84:2b:00:00:02", "40%", "operating"}, remoteRow)

	assert.Equal(t, []string{"2", "scanning"}, strings.Fields(lines[3]))
	assert.Equal(t, "2 connected", lines[4])

	// Every row has the same visible width
	w := lipgloss.Width(lines[0])
	for _, line := range lines[1:4] {
		assert.Equal(t, w, lipgloss.Width(line))
	}
}

func TestRenderScanning(t *testing.T) {
	snap := testSnapshot()
	snap.Scanning = true
	snap.ScanUntil = time.Date(2024, 1, 1, 10, 15, 30, 0, time.UTC)
	assert.Contains(t, NewRenderer().Render(snap), "scanning until 10:15:30")
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestRunWritesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var out syncBuffer
	done := make(chan struct{})
	go func() {
		NewRenderer().Run(ctx, &out, 5*time.Millisecond, testSnapshot)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Cargo")
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("renderer did not stop")
	}
}
