package opa

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// TestReloadThreadSafety tests that reload is safe with concurrent evaluations
func TestReloadThreadSafety(t *testing.T) {
	engine, err := NewEngine("", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ctx := context.Background()
	input := map[string]interface{}{
		"package":   "com.video",
		"state":     "SLEEPING",
		"allowlist": []interface{}{},
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				d, err := engine.Evaluate(ctx, input)
				if err != nil {
					t.Errorf("Evaluate: %v", err)
					return
				}
				if !d.Block {
					t.Errorf("expected block while sleeping")
					return
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		if err := engine.Reload(); err != nil {
			t.Errorf("Reload: %v", err)
		}
	}
	wg.Wait()
}

func TestReloadKeepsPreviousPolicyOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.rego")
	good := "package restwell.blocking\n\nimport rego.v1\n\ndecision := {\"block\": true, \"reason\": \"always\"}\n"
	if err := os.WriteFile(path, []byte(good), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	engine, err := NewEngine(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if err := os.WriteFile(path, []byte("package restwell.blocking\n\ndecision := {"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := engine.Reload(); err == nil {
		t.Fatal("expected reload error for broken policy")
	}

	d, err := engine.Evaluate(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Block || d.Reason != "always" {
		t.Errorf("previous policy lost: %+v", d)
	}
}
