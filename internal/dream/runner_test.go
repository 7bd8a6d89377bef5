package dream

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitForState(t *testing.T, store SessionStore, id string, want State) *DreamSession {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		session, err := store.Load(context.Background(), id)
		if err == nil && session.State == want {
			return session
		}
		time.Sleep(5 * time.Millisecond)
	}
	session, _ := store.Load(context.Background(), id)
	t.Fatalf("session %s never reached %s, last state: %+v", id, want, session)
	return nil
}

func TestRunnerExecutesSubmission(t *testing.T) {
	f := newPipelineFixture()
	runner := NewRunner(f.pipeline, nil, WithRunnerWorkers(1))
	defer func() { _ = runner.Shutdown(context.Background()) }()

	sessionID, err := runner.Submit(context.Background(), Submission{Text: "꿈 내용"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if sessionID == "" {
		t.Fatal("expected a session ID")
	}

	session := waitForState(t, f.store, sessionID, StateDone)
	if !session.NightmareImage.OK() {
		t.Fatal("expected the nightmare image rendered")
	}
}

func TestRunnerRejectsEmptySubmission(t *testing.T) {
	f := newPipelineFixture()
	runner := NewRunner(f.pipeline, nil, WithRunnerWorkers(1))
	defer func() { _ = runner.Shutdown(context.Background()) }()

	if _, err := runner.Submit(context.Background(), Submission{}); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestRunnerRejectsAfterShutdown(t *testing.T) {
	f := newPipelineFixture()
	runner := NewRunner(f.pipeline, nil, WithRunnerWorkers(1))
	if err := runner.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}

	if _, err := runner.Submit(context.Background(), Submission{Text: "꿈"}); !errors.Is(err, ErrRunnerClosed) {
		t.Fatalf("expected ErrRunnerClosed, got %v", err)
	}
}

func TestRunnerRecordsFailuresOnSession(t *testing.T) {
	f := newPipelineFixture()
	f.transcriber.err = errors.New("whisper unavailable")
	runner := NewRunner(f.pipeline, nil, WithRunnerWorkers(1))
	defer func() { _ = runner.Shutdown(context.Background()) }()

	sessionID, err := runner.Submit(context.Background(), Submission{Audio: []byte("audio")})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		session, err := f.store.Load(context.Background(), sessionID)
		if err == nil && session.FailedStage != "" {
			if session.FailedStage != "transcription" {
				t.Fatalf("expected transcription failure, got %q", session.FailedStage)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("failure never recorded on the session")
}
