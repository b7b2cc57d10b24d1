package logger

import (
	"reflect"
	"testing"
)

type entry struct {
	level   string
	message string
	keyvals []any
}

type recorder struct {
	entries []entry
}

func (r *recorder) add(level, message string, keyvals []any) {
	r.entries = append(r.entries, entry{level: level, message: message, keyvals: keyvals})
}

func (r *recorder) Log(m string, kv ...any)   { r.add("log", m, kv) }
func (r *recorder) Debug(m string, kv ...any) { r.add("debug", m, kv) }
func (r *recorder) Info(m string, kv ...any)  { r.add("info", m, kv) }
func (r *recorder) Warn(m string, kv ...any)  { r.add("warn", m, kv) }
func (r *recorder) Error(m string, kv ...any) { r.add("error", m, kv) }
func (r *recorder) Fatal(m string, kv ...any) { r.add("fatal", m, kv) }

func TestDispatchToAllBackends(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	t.Cleanup(func() { Init() })

	Info("hello", "k", 1)
	Log("plain", "k", 2)
	Component("Pipeline").Warn("slow", "path", "a.md")

	want := []entry{
		{level: "info", message: "hello", keyvals: []any{"k", 1}},
		{level: "log", message: "plain", keyvals: []any{"k", 2}},
		{level: "warn", message: "[Pipeline] slow", keyvals: []any{"path", "a.md"}},
	}
	for _, r := range []*recorder{a, b} {
		if !reflect.DeepEqual(r.entries, want) {
			t.Fatalf("expected %v, got %v", want, r.entries)
		}
	}
}

func TestUninitializedIsSilent(t *testing.T) {
	mu.Lock()
	prev := singleton
	singleton = nil
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		singleton = prev
		mu.Unlock()
	})

	Info("dropped")
	Error("dropped")
}
