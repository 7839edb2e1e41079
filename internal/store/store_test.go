package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedConversation(t *testing.T, db *DB, kind string, ids ...string) *Conversation {
	t.Helper()
	c := &Conversation{ID: "conv-" + kind, Kind: kind}
	if kind == KindGroup {
		c.GroupName = "room"
	}
	for i, id := range ids {
		role := RoleMember
		if i == 0 {
			role = RoleAdmin
		}
		c.Participants = append(c.Participants, Participant{
			IdentityID:  id,
			DisplayName: "User " + id,
			Role:        role,
		})
	}
	if err := db.CreateConversation(c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	db := testDB(t)

	id := &Identity{ID: "u1", Name: "Amit", Email: "amit@example.com"}
	if err := db.CreateIdentity(id); err != nil {
		t.Fatalf("CreateIdentity() error = %v", err)
	}

	got, err := db.FindIdentityByID("u1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Email != "amit@example.com" {
		t.Errorf("FindIdentityByID() = %+v, want amit@example.com", got)
	}

	got, err = db.FindIdentityByEmail("amit@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "u1" {
		t.Errorf("FindIdentityByEmail() = %+v, want u1", got)
	}

	missing, err := db.FindIdentityByID("nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("FindIdentityByID(nope) = %+v, want nil", missing)
	}
}

func TestIdentityEmailUnique(t *testing.T) {
	db := testDB(t)

	if err := db.CreateIdentity(&Identity{ID: "u1", Name: "A", Email: "dup@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateIdentity(&Identity{ID: "u2", Name: "B", Email: "dup@example.com"}); err == nil {
		t.Error("CreateIdentity() with duplicate email should fail")
	}
}

func TestUpdateLastSeen(t *testing.T) {
	db := testDB(t)

	if err := db.CreateIdentity(&Identity{ID: "u1", Name: "A", Email: "a@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateLastSeen("u1", 12345); err != nil {
		t.Fatal(err)
	}
	got, err := db.FindIdentityByID("u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastSeen != 12345 {
		t.Errorf("LastSeen = %d, want 12345", got.LastSeen)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db, KindGroup, "a", "b", "c")

	got, err := db.FindConversationByID("conv-group")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("conversation not found")
	}
	if got.Kind != KindGroup || got.GroupName != "room" {
		t.Errorf("kind/name = %s/%s, want group/room", got.Kind, got.GroupName)
	}
	if len(got.Participants) != 3 {
		t.Fatalf("participants = %d, want 3", len(got.Participants))
	}
	if got.Participants[0].Role != RoleAdmin {
		t.Errorf("first participant role = %s, want admin", got.Participants[0].Role)
	}
	if got.LastMessage != nil {
		t.Errorf("LastMessage = %+v, want nil before any message", got.LastMessage)
	}

	if p := got.Participant("b"); p == nil || p.DisplayName != "User b" {
		t.Errorf("Participant(b) = %+v", p)
	}
	if p := got.Participant("zz"); p != nil {
		t.Errorf("Participant(zz) = %+v, want nil", p)
	}
}

func TestFindConversationsByParticipant(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db, KindPrivate, "a", "b")
	seedConversation(t, db, KindGroup, "a", "b", "c")

	convs, err := db.FindConversationsByParticipant("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("conversations for a = %d, want 2", len(convs))
	}

	convs, err = db.FindConversationsByParticipant("c")
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].Kind != KindGroup {
		t.Errorf("conversations for c = %+v, want just the group", convs)
	}
}

func TestFindPrivateConversationByMembers(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db, KindPrivate, "a", "b")

	got, err := db.FindPrivateConversationByMembers("b", "a")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "conv-private" {
		t.Errorf("FindPrivateConversationByMembers() = %+v, want conv-private", got)
	}

	got, err = db.FindPrivateConversationByMembers("a", "c")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("FindPrivateConversationByMembers(a,c) = %+v, want nil", got)
	}
}

func TestUpdateConversationParticipants(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db, KindPrivate, "a", "b")

	before, err := db.FindConversationByID(c.ID)
	if err != nil {
		t.Fatal(err)
	}

	parts := before.Participants
	for i := range parts {
		if parts[i].IdentityID == "b" {
			parts[i].UnreadCount = 4
		}
	}
	if err := db.UpdateConversationParticipants(c.ID, parts); err != nil {
		t.Fatal(err)
	}

	after, err := db.FindConversationByID(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p := after.Participant("b"); p.UnreadCount != 4 {
		t.Errorf("unread for b = %d, want 4", p.UnreadCount)
	}
	if p := after.Participant("a"); p.UnreadCount != 0 {
		t.Errorf("unread for a = %d, want 0", p.UnreadCount)
	}
	if after.UpdatedAt < before.UpdatedAt {
		t.Error("updated_at should not go backwards")
	}
}

func TestUpdateParticipantUnread(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db, KindPrivate, "a", "b")

	if err := db.UpdateParticipantUnread(c.ID, "b", 7); err != nil {
		t.Fatal(err)
	}
	got, err := db.FindConversationByID(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p := got.Participant("b"); p.UnreadCount != 7 {
		t.Errorf("unread = %d, want 7", p.UnreadCount)
	}

	if err := db.UpdateParticipantUnread(c.ID, "b", 0); err != nil {
		t.Fatal(err)
	}
	got, _ = db.FindConversationByID(c.ID)
	if p := got.Participant("b"); p.UnreadCount != 0 {
		t.Errorf("unread after reset = %d, want 0", p.UnreadCount)
	}
}

func TestUpdateLastMessageSummary(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db, KindPrivate, "a", "b")

	lm := LastMessage{
		MessageID:  "m1",
		SenderID:   "a",
		SenderName: "User a",
		Content:    "hello",
		Timestamp:  1000,
	}
	if err := db.UpdateLastMessageSummary(c.ID, lm); err != nil {
		t.Fatal(err)
	}

	got, err := db.FindConversationByID(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastMessage == nil {
		t.Fatal("LastMessage is nil")
	}
	if got.LastMessage.Content != "hello" || got.LastMessage.SenderID != "a" {
		t.Errorf("LastMessage = %+v", got.LastMessage)
	}
}

func TestMessagePagination(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db, KindPrivate, "a", "b")

	base := time.Now().UnixMilli()
	for i := 0; i < 5; i++ {
		if err := db.CreateMessage(&Message{
			ID:             string(rune('a' + i)),
			ConversationID: c.ID,
			SenderID:       "a",
			Content:        "msg",
			CreatedAt:      base + int64(i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	// First page: newest two.
	page, err := db.FindMessagesByConversation(c.ID, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	if page[0].ID != "e" || page[1].ID != "d" {
		t.Errorf("page = [%s %s], want [e d]", page[0].ID, page[1].ID)
	}

	// Second page: before the older message of the first page.
	page, err = db.FindMessagesByConversation(c.ID, page[1].CreatedAt, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "c" || page[1].ID != "b" {
		t.Errorf("second page = %+v, want [c b]", page)
	}
}

// TestMessagePaginationDefaultHasNoUpperBound verifies that a zero cursor
// returns the newest messages even when their creation time is ahead of the
// querying clock.
func TestMessagePaginationDefaultHasNoUpperBound(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db, KindPrivate, "a", "b")

	if err := db.CreateMessage(&Message{
		ID:             "m1",
		ConversationID: c.ID,
		SenderID:       "a",
		Content:        "from a fast clock",
		CreatedAt:      time.Now().UnixMilli() + 500,
	}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.FindMessagesByConversation(c.ID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("messages = %+v, want [m1]", msgs)
	}
}

func TestFindUnreadMessages(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db, KindPrivate, "a", "b")

	msgs := []Message{
		{ID: "m1", SenderID: "a", Status: StatusSent},
		{ID: "m2", SenderID: "a", Status: StatusRead},
		{ID: "m3", SenderID: "b", Status: StatusSent},
	}
	for i := range msgs {
		msgs[i].ConversationID = c.ID
		msgs[i].Content = "x"
		msgs[i].CreatedAt = int64(i + 1)
		if err := db.CreateMessage(&msgs[i]); err != nil {
			t.Fatal(err)
		}
	}

	// From b's point of view only a's unread message qualifies.
	unread, err := db.FindUnreadMessages(c.ID, "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 1 || unread[0].ID != "m1" {
		t.Errorf("unread for b = %+v, want [m1]", unread)
	}
}

// TestMessageStatusNeverRegresses verifies the sent -> read transition is
// one-way: updating an already-read message is a no-op.
func TestMessageStatusNeverRegresses(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db, KindPrivate, "a", "b")

	if err := db.CreateMessage(&Message{ID: "m1", ConversationID: c.ID, SenderID: "a", Content: "x"}); err != nil {
		t.Fatal(err)
	}

	if err := db.UpdateMessageStatus(c.ID, "m1", StatusRead); err != nil {
		t.Fatal(err)
	}
	// Attempt to regress.
	if err := db.UpdateMessageStatus(c.ID, "m1", StatusSent); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.FindMessagesByConversation(c.ID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].Status != StatusRead {
		t.Errorf("status = %s, want read", msgs[0].Status)
	}
}
