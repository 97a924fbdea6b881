package store

import (
	"context"
	"testing"
)

func mustCreateUser(t *testing.T, st Repository, ctx context.Context, name string) string {
	t.Helper()
	id, err := st.CreateUser(ctx, name)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func mustCreateRoom(t *testing.T, st Repository, ctx context.Context, creatorID, status string) string {
	t.Helper()
	id, err := st.CreateRoom(ctx, Room{Name: "room", CreatorID: creatorID, Status: status, Format: FormatSpec{Template: "standard"}, Locale: "en"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return id
}
