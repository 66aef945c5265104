package events

import (
	"encoding/json"
	"testing"
)

func wrap(t *testing.T, inner string) []byte {
	t.Helper()
	raw, err := json.Marshal(Envelope{MsgType: EnvelopeFromBackend, Msg: inner})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestDecodeJobStart(t *testing.T) {
	ev, err := Decode(wrap(t, `{"msgtype":"sparkJobStart","jobId":5,"totalCores":16,"numExecutors":4}`))
	if err != nil {
		t.Fatal(err)
	}
	js, ok := ev.(*JobStart)
	if !ok {
		t.Fatalf("expected *JobStart, got %T", ev)
	}
	if js.JobID != 5 || js.TotalCores != 16 || js.NumExecutors != 4 {
		t.Errorf("unexpected payload: %+v", js)
	}
}

func TestDecodeAllKinds(t *testing.T) {
	cases := []struct {
		inner string
		kind  string
	}{
		{`{"msgtype":"sparkJobStart","jobId":1}`, KindJobStart},
		{`{"msgtype":"sparkJobEnd","jobId":1}`, KindJobEnd},
		{`{"msgtype":"sparkStageSubmitted","stageId":2}`, KindStageSubmitted},
		{`{"msgtype":"sparkStageCompleted","stageId":2}`, KindStageCompleted},
		{`{"msgtype":"sparkTaskStart","stageId":2}`, KindTaskStart},
		{`{"msgtype":"sparkTaskEnd","stageId":2}`, KindTaskEnd},
		{`{"msgtype":"sparkApplicationStart","appId":"a"}`, KindApplicationStart},
		{`{"msgtype":"sparkApplicationEnd"}`, KindApplicationEnd},
		{`{"msgtype":"sparkExecutorAdded","totalCores":8}`, KindExecutorAdded},
		{`{"msgtype":"sparkExecutorRemoved","totalCores":4}`, KindExecutorRemoved},
	}

	for _, tc := range cases {
		ev, err := Decode(wrap(t, tc.inner))
		if err != nil {
			t.Errorf("%s: %v", tc.kind, err)
			continue
		}
		if ev == nil {
			t.Errorf("%s: decoded to nil", tc.kind)
			continue
		}
		if ev.Kind() != tc.kind {
			t.Errorf("expected kind %s, got %s", tc.kind, ev.Kind())
		}
	}
}

func TestDecodeUnknownOuterTypeIgnored(t *testing.T) {
	ev, err := Decode([]byte(`{"msgtype":"something_else","msg":"ignored"}`))
	if err != nil {
		t.Fatalf("unknown outer msgtype must not error: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected nil event, got %T", ev)
	}
}

func TestDecodeUnknownInnerTypeIgnored(t *testing.T) {
	ev, err := Decode(wrap(t, `{"msgtype":"sparkFutureEvent","payload":1}`))
	if err != nil {
		t.Fatalf("unknown inner msgtype must not error: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected nil event, got %T", ev)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte("{broken")); err == nil {
		t.Error("malformed envelope must error")
	}
	if _, err := Decode(wrap(t, "{broken")); err == nil {
		t.Error("malformed inner JSON must error")
	}
}

func TestOpenHandshake(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal(OpenHandshake(), &env); err != nil {
		t.Fatal(err)
	}
	if env.MsgType != EnvelopeOpen {
		t.Errorf("expected msgtype %q, got %q", EnvelopeOpen, env.MsgType)
	}
}
