package mcp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/autoflow/pkg/schema"
)

func TestSessionRegistry_WatchAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Watch("au_1", "session-b")
	r.Watch("au_1", "session-a")
	r.Watch("au_1", "session-a")

	assert.Equal(t, []string{"session-a", "session-b"}, r.SessionsFor("au_1"))
}

func TestSessionRegistry_NotFound(t *testing.T) {
	r := NewSessionRegistry()
	assert.Empty(t, r.SessionsFor("unknown"))
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()

	r.Watch("au_1", "session-abc")
	r.Watch("au_2", "session-abc")
	r.Watch("au_2", "session-xyz")

	r.Remove("session-abc")

	assert.Empty(t, r.SessionsFor("au_1"))
	assert.Equal(t, []string{"session-xyz"}, r.SessionsFor("au_2"))
}

func TestSessionRegistry_ConcurrentAccess(t *testing.T) {
	r := NewSessionRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Watch("au_1", "session")
		}()
		go func() {
			defer wg.Done()
			r.SessionsFor("au_1")
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"session"}, r.SessionsFor("au_1"))
}

func TestRunNotifier_SilentWithoutServer(t *testing.T) {
	n := NewRunNotifier()
	n.Sessions().Watch("au_1", "session-abc")

	assert.NotPanics(t, func() {
		n.RunFinished("run_1", "au_1", schema.RunStatusSuccess, time.Millisecond)
	})
	assert.Equal(t, []string{"session-abc"}, n.Sessions().SessionsFor("au_1"))
}

func TestRunNotifier_DropsExpiredSessions(t *testing.T) {
	n := NewRunNotifier()
	NewAutoflowServer(AutoflowServerDeps{Notifier: n})
	n.Sessions().Watch("au_1", "gone")

	n.RunFinished("run_1", "au_1", schema.RunStatusFailed, time.Millisecond)

	assert.Empty(t, n.Sessions().SessionsFor("au_1"))
}
