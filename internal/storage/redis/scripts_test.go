package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestAppendEventScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	keys := []string{"test:events", "test:seq"}

	for i := 0; i < 3; i++ {
		if err := appendEvent.Run(ctx, client, keys, 42, `{"n":1}`).Err(); err != nil {
			t.Fatalf("Script failed: %v", err)
		}
	}

	members, err := mr.ZMembers("test:events")
	if err != nil {
		t.Fatalf("ZMembers failed: %v", err)
	}
	want := []string{
		`00000000000000000001|{"n":1}`,
		`00000000000000000002|{"n":1}`,
		`00000000000000000003|{"n":1}`,
	}
	if len(members) != len(want) {
		t.Fatalf("Expected %d members, got %v", len(want), members)
	}
	for i := range want {
		if members[i] != want[i] {
			t.Errorf("member %d = %q, want %q", i, members[i], want[i])
		}
	}
}

func TestAppendScreenScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	keys := []string{"test:events", "test:seq", "test:seen"}

	tests := []struct {
		name string
		ts   int64
		typ  string
		want int
	}{
		{"first on", 10, "ON", 1},
		{"duplicate on", 10, "ON", 0},
		{"off at same time", 10, "OFF", 1},
		{"later on", 20, "ON", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := appendScreen.Run(ctx, client, keys, tt.ts, tt.typ, "{}").Int()
			if err != nil {
				t.Fatalf("Script failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestCloseSessionScriptNoOpenSession(t *testing.T) {
	client, _ := setupTestRedis(t)
	defer client.Close()

	err := closeSession.Run(context.Background(), client, []string{"test:open"}, "com.none", 10, "test:session:").Err()
	if err != redis.Nil {
		t.Fatalf("Expected redis.Nil, got %v", err)
	}
}
