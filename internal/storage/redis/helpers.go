package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/goodtune/restwell/internal/storage"
)

// decodeMember strips the sequence prefix from a sorted set member and
// decodes the payload.
func decodeMember(member string, out any) error {
	_, payload, ok := strings.Cut(member, "|")
	if !ok {
		return fmt.Errorf("malformed event member %q", member)
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}
	return nil
}

// parseAppSession converts a Redis hash to AppSession
func parseAppSession(data map[string]string) (*storage.AppSession, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	start, err := strconv.ParseInt(data["start"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start: %w", err)
	}

	session := &storage.AppSession{ID: data["id"]}
	session.PackageName = data["package_name"]
	session.Start = start

	if raw, ok := data["end"]; ok {
		end, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse end: %w", err)
		}
		session.End = &end
	}

	return session, nil
}
