package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mentora/tutorvoice/internal/observability"
	"github.com/mentora/tutorvoice/internal/protocol"
	"github.com/mentora/tutorvoice/internal/records"
	"github.com/mentora/tutorvoice/internal/session"
	"github.com/mentora/tutorvoice/internal/speech"
	"github.com/mentora/tutorvoice/internal/tutor"
)

var metricsSeq atomic.Int64

type testRig struct {
	orch     *Orchestrator
	sessions *session.Manager
	client   *tutor.MockClient
	store    records.Store
	sess     *session.Session
	inbound  chan any
	outbound chan any
	cancel   context.CancelFunc
	done     chan struct{}
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	return newTestRigStore(t, records.NewMemoryStore())
}

func newTestRigStore(t *testing.T, store records.Store) *testRig {
	t.Helper()
	client := tutor.NewMockClient("useState is a Hook that lets you add state to function components.")
	engine := tutor.NewEngine(client, tutor.Options{})
	sessions := session.NewManager(time.Minute)
	snapshots := session.NewSnapshotStore("", "", 0)
	metrics := observability.NewMetrics(fmt.Sprintf("orch_test_%d", metricsSeq.Add(1)))

	orch := New(sessions, engine, speech.NewMockProvider(), store, snapshots, metrics, Config{
		SpeechRestartDelay: 10 * time.Millisecond,
		VoiceLevelInterval: 20 * time.Millisecond,
		LinkProbeInterval:  20 * time.Millisecond,
		LinkSeed:           1,
	})

	sess := sessions.Create("student-1", "video_call", "en-US",
		&session.CourseRef{ID: 7, Title: "React"},
		&session.LessonRef{ID: 42, Title: "State and Props"})

	ctx, cancel := context.WithCancel(context.Background())
	rig := &testRig{
		orch:     orch,
		sessions: sessions,
		client:   client,
		store:    store,
		sess:     sess,
		inbound:  make(chan any, 16),
		outbound: make(chan any, 256),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(rig.done)
		_ = orch.RunSession(ctx, sess, rig.inbound, rig.outbound)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-rig.done:
		case <-time.After(2 * time.Second):
			t.Error("RunSession did not return")
		}
	})
	return rig
}

func (r *testRig) control(action string, micGranted bool) protocol.ClientControl {
	return protocol.ClientControl{
		Type:       protocol.TypeClientControl,
		SessionID:  r.sess.ID,
		Action:     action,
		MicGranted: micGranted,
	}
}

func (r *testRig) utter(text string) protocol.ClientUtterance {
	return protocol.ClientUtterance{
		Type:      protocol.TypeClientUtterance,
		SessionID: r.sess.ID,
		Text:      text,
	}
}

// waitMsg reads outbound until match accepts a message or the timeout hits.
func waitMsg(t *testing.T, outbound <-chan any, timeout time.Duration, match func(any) bool) any {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-outbound:
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatal("expected message not observed before timeout")
			return nil
		}
	}
}

func TestStartCallWithoutMicPermission(t *testing.T) {
	rig := newTestRig(t)
	rig.inbound <- rig.control(protocol.ActionStartCall, false)

	msg := waitMsg(t, rig.outbound, time.Second, func(m any) bool {
		_, ok := m.(protocol.ErrorEvent)
		return ok
	})
	ev := msg.(protocol.ErrorEvent)
	if ev.Code != "permission_denied" || ev.Source != "speech" {
		t.Fatalf("unexpected error event: %+v", ev)
	}

	// A denied start leaves the call startable: granting permission works.
	rig.inbound <- rig.control(protocol.ActionStartCall, true)
	waitMsg(t, rig.outbound, time.Second, func(m any) bool {
		se, ok := m.(protocol.SystemEvent)
		return ok && se.Code == "call_started"
	})
}

func TestUtteranceTurnsAndFailureIsolation(t *testing.T) {
	rig := newTestRig(t)
	rig.inbound <- rig.control(protocol.ActionStartCall, true)
	waitMsg(t, rig.outbound, time.Second, func(m any) bool {
		se, ok := m.(protocol.SystemEvent)
		return ok && se.Code == "call_started"
	})

	rig.inbound <- rig.utter("What is useState?")
	reply := waitMsg(t, rig.outbound, 2*time.Second, func(m any) bool {
		_, ok := m.(protocol.TutorReply)
		return ok
	}).(protocol.TutorReply)
	if reply.Text == "" {
		t.Fatal("empty tutor reply")
	}

	// Second turn fails at the completion service; the session keeps going
	// and the question still counts.
	rig.client.Err = errors.New("completion down")
	rig.inbound <- rig.utter("And useEffect?")
	ev := waitMsg(t, rig.outbound, 2*time.Second, func(m any) bool {
		e, ok := m.(protocol.ErrorEvent)
		return ok && e.Source == "completion"
	}).(protocol.ErrorEvent)
	if !ev.Retryable {
		t.Fatalf("completion failure should be retryable: %+v", ev)
	}

	cur, err := rig.sessions.Get(rig.sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cur.QuestionsAsked != 2 {
		t.Fatalf("QuestionsAsked = %d, want 2", cur.QuestionsAsked)
	}

	// Third turn succeeds again.
	rig.client.Err = nil
	rig.inbound <- rig.utter("Show me an example")
	waitMsg(t, rig.outbound, 2*time.Second, func(m any) bool {
		_, ok := m.(protocol.TutorReply)
		return ok
	})
}

func TestPanelTogglesEmitState(t *testing.T) {
	rig := newTestRig(t)
	rig.inbound <- rig.control(protocol.ActionStartCall, true)
	waitMsg(t, rig.outbound, time.Second, func(m any) bool {
		se, ok := m.(protocol.SystemEvent)
		return ok && se.Code == "call_started"
	})

	rig.inbound <- rig.control(protocol.ActionToggleChat, false)
	waitMsg(t, rig.outbound, time.Second, func(m any) bool {
		se, ok := m.(protocol.SystemEvent)
		return ok && se.Code == "panel_state" && se.Detail == "chat_on"
	})

	rig.inbound <- rig.control(protocol.ActionToggleChat, false)
	waitMsg(t, rig.outbound, time.Second, func(m any) bool {
		se, ok := m.(protocol.SystemEvent)
		return ok && se.Code == "panel_state" && se.Detail == "chat_off"
	})
}

func TestLinkQualityIsLabeledSimulated(t *testing.T) {
	rig := newTestRig(t)
	rig.inbound <- rig.control(protocol.ActionStartCall, true)

	lq := waitMsg(t, rig.outbound, 2*time.Second, func(m any) bool {
		_, ok := m.(protocol.LinkQuality)
		return ok
	}).(protocol.LinkQuality)
	if lq.Source != "simulated" {
		t.Fatalf("link quality source = %q, want simulated", lq.Source)
	}
	switch lq.Quality {
	case "excellent", "good", "fair", "poor":
	default:
		t.Fatalf("unexpected quality %q", lq.Quality)
	}
}

func TestEndCallSendsSummaryAndEndsSession(t *testing.T) {
	rig := newTestRig(t)
	rig.inbound <- rig.control(protocol.ActionStartCall, true)
	waitMsg(t, rig.outbound, time.Second, func(m any) bool {
		se, ok := m.(protocol.SystemEvent)
		return ok && se.Code == "call_started"
	})

	rig.inbound <- rig.utter("What is useState?")
	waitMsg(t, rig.outbound, 2*time.Second, func(m any) bool {
		_, ok := m.(protocol.TutorReply)
		return ok
	})

	rig.inbound <- rig.control(protocol.ActionEndCall, false)
	summary := waitMsg(t, rig.outbound, 2*time.Second, func(m any) bool {
		_, ok := m.(protocol.SessionSummary)
		return ok
	}).(protocol.SessionSummary)
	if summary.UserMessages != 1 || summary.AIMessages != 1 {
		t.Fatalf("summary = %+v, want 1 user and 1 ai message", summary)
	}
	if summary.QuestionsAsked != 1 {
		t.Fatalf("QuestionsAsked = %d, want 1", summary.QuestionsAsked)
	}

	select {
	case <-rig.done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunSession did not return after end_call")
	}

	cur, err := rig.sessions.Get(rig.sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cur.Status != session.StatusEnded {
		t.Fatalf("status = %q, want ended", cur.Status)
	}
}

func TestResetConversationKeepsCallActive(t *testing.T) {
	rig := newTestRig(t)
	rig.inbound <- rig.control(protocol.ActionStartCall, true)
	waitMsg(t, rig.outbound, time.Second, func(m any) bool {
		se, ok := m.(protocol.SystemEvent)
		return ok && se.Code == "call_started"
	})

	rig.inbound <- rig.utter("What is useState?")
	waitMsg(t, rig.outbound, 2*time.Second, func(m any) bool {
		_, ok := m.(protocol.TutorReply)
		return ok
	})

	rig.inbound <- rig.control(protocol.ActionResetConversation, false)
	waitMsg(t, rig.outbound, time.Second, func(m any) bool {
		se, ok := m.(protocol.SystemEvent)
		return ok && se.Code == "conversation_reset"
	})

	// The next turn starts from a fresh log but the call stays up.
	rig.inbound <- rig.utter("Start over: what are props?")
	waitMsg(t, rig.outbound, 2*time.Second, func(m any) bool {
		_, ok := m.(protocol.TutorReply)
		return ok
	})
	last := rig.client.Requests[len(rig.client.Requests)-1]
	// system prompt plus the single new question
	if len(last.Messages) != 2 {
		t.Fatalf("messages after reset = %d, want 2", len(last.Messages))
	}
}

// flakyRecordStore fails a configured number of CreateSession calls
// before delegating to an in-memory store.
type flakyRecordStore struct {
	inner       *records.MemoryStore
	mu          sync.Mutex
	createFails int
	attempts    int
}

func (f *flakyRecordStore) CreateSession(ctx context.Context, rec records.SessionRecord) (string, error) {
	f.mu.Lock()
	f.attempts++
	fail := f.createFails > 0
	if fail {
		f.createFails--
	}
	f.mu.Unlock()
	if fail {
		return "", errors.New("records backend unavailable")
	}
	return f.inner.CreateSession(ctx, rec)
}

func (f *flakyRecordStore) FinishSession(ctx context.Context, id string, endedAt time.Time, durationMinutes int, topics []string, questions int) error {
	return f.inner.FinishSession(ctx, id, endedAt, durationMinutes, topics, questions)
}

func (f *flakyRecordStore) Close() error { return f.inner.Close() }

func (f *flakyRecordStore) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func TestRecordCreateRetriesTransientFailure(t *testing.T) {
	flaky := &flakyRecordStore{inner: records.NewMemoryStore(), createFails: 1}
	rig := newTestRigStore(t, flaky)

	rig.inbound <- rig.control(protocol.ActionStartCall, true)
	waitMsg(t, rig.outbound, time.Second, func(m any) bool {
		se, ok := m.(protocol.SystemEvent)
		return ok && se.Code == "call_started"
	})

	// The first write fails, so the record id shows up only after the
	// backed-off second attempt lands.
	deadline := time.Now().Add(3 * time.Second)
	for {
		cur, err := rig.sessions.Get(rig.sess.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if cur.RecordID != "" {
			if _, ok := flaky.inner.Get(cur.RecordID); !ok {
				t.Fatalf("record %q missing from store", cur.RecordID)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("record id not set after retried create")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := flaky.attemptCount(); got != 2 {
		t.Fatalf("create attempts = %d, want 2", got)
	}
}
