package ws

import (
	"testing"
)

func TestDecodeFileEvents(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"FILE_SAVED","fileId":"7","content":"x"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	saved, ok := ev.(*FileSaved)
	if !ok {
		t.Fatalf("got %T, want *FileSaved", ev)
	}
	if saved.FileID != 7 || saved.Content != "x" {
		t.Errorf("saved = %+v", saved)
	}

	ev, err = Decode([]byte(`{"type":"FILE_CREATED","file":{"id":3,"name":"a.py","path":"/src/a.py","type":"FILE","parentId":2}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	created := ev.(*FileCreated)
	if created.File.ID != 3 || created.File.ParentID == nil || *created.File.ParentID != 2 {
		t.Errorf("created = %+v", created.File)
	}
	if created.File.Content != nil {
		t.Errorf("content = %q, want absent", *created.File.Content)
	}

	ev, err = Decode([]byte(`{"type":"FILE_RENAMED","fileId":3,"name":"b.py","newPath":"/src/b.py"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if r := ev.(*FileRenamed); r.Name != "b.py" || r.NewPath != "/src/b.py" {
		t.Errorf("renamed = %+v", r)
	}
}

func TestDecodeExitCodeAliases(t *testing.T) {
	tests := []struct {
		frame string
		kind  string
		code  *int
		err   string
	}{
		{`{"type":"EXECUTION_COMPLETED","exitCode":0}`, TypeExecutionCompleted, intp(0), ""},
		{`{"type":"EXECUTION_RESULT","exit_code":3}`, TypeExecutionResult, intp(3), ""},
		{`{"type":"EXECUTION_RESULT","exitCode":1,"exit_code":9}`, TypeExecutionResult, intp(1), ""},
		{`{"type":"EXECUTION_COMPLETED","error":"segfault","exitCode":139}`, TypeExecutionCompleted, intp(139), "segfault"},
		{`{"type":"EXECUTION_COMPLETED"}`, TypeExecutionCompleted, nil, ""},
	}
	for _, tt := range tests {
		ev, err := Decode([]byte(tt.frame))
		if err != nil {
			t.Fatalf("Decode(%s): %v", tt.frame, err)
		}
		done, ok := ev.(*ExecutionCompleted)
		if !ok {
			t.Fatalf("Decode(%s) = %T", tt.frame, ev)
		}
		if done.EventType() != tt.kind {
			t.Errorf("%s: kind = %q, want %q", tt.frame, done.EventType(), tt.kind)
		}
		if !sameInt(done.ExitCode, tt.code) {
			t.Errorf("%s: exit code = %v, want %v", tt.frame, done.ExitCode, tt.code)
		}
		if done.Error != tt.err {
			t.Errorf("%s: error = %q, want %q", tt.frame, done.Error, tt.err)
		}
	}
}

func TestDecodeErrorAliases(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"ERROR","message":"boom","exitCode":1}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	e := ev.(*ErrorEvent)
	if e.Message != "boom" || !sameInt(e.ExitCode, intp(1)) {
		t.Errorf("error = %+v", e)
	}

	ev, err = Decode([]byte(`{"type":"ERROR","error":"bad input"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if e := ev.(*ErrorEvent); e.Message != "bad input" || e.ExitCode != nil {
		t.Errorf("error = %+v", e)
	}
}

func TestDecodeUnknown(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"CURSOR_MOVE","line":3}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	u, ok := ev.(*Unknown)
	if !ok {
		t.Fatalf("got %T, want *Unknown", ev)
	}
	if u.Type != "CURSOR_MOVE" || len(u.Raw) == 0 {
		t.Errorf("unknown = %+v", u)
	}
}

func TestDecodePresence(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"ONLINE_USERS","count":2,"users":[{"id":1,"username":"a","sessionId":"s1"},{"id":"2","username":"b","sessionId":"s2"}]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	users := ev.(*OnlineUsers)
	if len(users.Users) != 2 || users.Users[1].ID != 2 {
		t.Errorf("users = %+v", users.Users)
	}
}

func TestIDRejectsGarbage(t *testing.T) {
	var id ID
	if err := id.UnmarshalJSON([]byte(`"x1"`)); err == nil {
		t.Error("expected error for non-numeric id")
	}
	if err := id.UnmarshalJSON([]byte(`null`)); err != nil || id != 0 {
		t.Errorf("null id = %d, %v", id, err)
	}
}

func intp(n int) *int { return &n }

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
