package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/echoes-app/echosync/internal/model"
	"github.com/echoes-app/echosync/internal/queue"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "echoes-test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestEcho(t *testing.T, s *Store, title string, collaborators ...string) *model.Echo {
	t.Helper()
	echo, err := s.CreateEcho(context.Background(), &model.Echo{
		Title:           title,
		OwnerID:         "u1",
		OwnerName:       "Alice",
		CollaboratorIDs: collaborators,
	})
	if err != nil {
		t.Fatalf("failed to create echo: %v", err)
	}
	return echo
}

func pendingOps(t *testing.T, s *Store) []queue.Op {
	t.Helper()
	ops, err := s.Queue().ListAll(context.Background())
	if err != nil {
		t.Fatalf("failed to list ops: %v", err)
	}
	return ops
}

func TestCreateEchoReadYourWrite(t *testing.T) {
	s := setupStore(t)
	created := createTestEcho(t, s, "Summer Trip", "u1", "u2")

	if created.ID == "" {
		t.Fatal("created echo has no id")
	}
	got := s.GetByID(created.ID)
	if got == nil {
		t.Fatal("created echo not readable")
	}
	if got.Title != "Summer Trip" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Status != model.EchoOngoing {
		t.Errorf("status = %q, want ongoing", got.Status)
	}
	if !got.HasCollaborator("u1") || !got.HasCollaborator("u2") {
		t.Errorf("collaborators = %v, want u1 and u2", got.CollaboratorIDs)
	}
}

func TestCreateEchoEnqueuesOpAndActivity(t *testing.T) {
	s := setupStore(t)
	echo := createTestEcho(t, s, "Trip", "u1", "u2")

	// Exactly one create op plus one activity append.
	ops := pendingOps(t, s)
	var creates, appends int
	for _, op := range ops {
		switch {
		case op.EntityType == queue.EntityEcho && op.Action == queue.ActionCreate:
			creates++
		case op.EntityType == queue.EntityActivity && op.Action == queue.ActionAppend:
			appends++
		}
	}
	if creates != 1 {
		t.Errorf("got %d create ops, want 1", creates)
	}
	if appends != 1 {
		t.Errorf("got %d activity ops, want 1", appends)
	}

	activities := s.GetActivities(echo.ID)
	if len(activities) != 1 {
		t.Fatalf("got %d activities, want 1", len(activities))
	}
	if activities[0].Type != model.ActivityEchoCreated {
		t.Errorf("activity type = %q, want echo_created", activities[0].Type)
	}
}

func TestCreateEchoRejectsInvalid(t *testing.T) {
	s := setupStore(t)
	_, err := s.CreateEcho(context.Background(), &model.Echo{OwnerID: "u1"})
	if err == nil {
		t.Fatal("echo without title should be rejected")
	}
	// Failed create leaves no trace: no rows, no ops.
	if len(s.GetAll()) != 0 {
		t.Error("rejected create left an echo behind")
	}
	if len(pendingOps(t, s)) != 0 {
		t.Error("rejected create left ops behind")
	}
}

func TestUpdateEchoPartial(t *testing.T) {
	s := setupStore(t)
	echo := createTestEcho(t, s, "Trip")

	updated, err := s.UpdateEcho(context.Background(), echo.ID, model.EchoUpdate{
		Title: model.Some("Renamed"),
	})
	if err != nil {
		t.Fatalf("UpdateEcho: %v", err)
	}
	if updated.Title != "Renamed" {
		t.Errorf("title = %q", updated.Title)
	}
	if updated.OwnerID != "u1" {
		t.Error("unset field was clobbered")
	}
	if !updated.UpdatedAt.After(echo.UpdatedAt) {
		t.Error("updated_at did not advance")
	}
}

func TestUpdateEchoExplicitFalse(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	echo, err := s.CreateEcho(ctx, &model.Echo{
		Title: "Diary", OwnerID: "u1", IsPrivate: true,
	})
	if err != nil {
		t.Fatalf("CreateEcho: %v", err)
	}
	if !echo.IsPrivate {
		t.Fatal("precondition: echo should be private")
	}

	// Explicit false flips the flag; a plain JSON merge would drop it.
	updated, err := s.UpdateEcho(ctx, echo.ID, model.EchoUpdate{
		IsPrivate: model.Some(false),
		ShareMode: model.Some(model.ShareShared),
	})
	if err != nil {
		t.Fatalf("UpdateEcho: %v", err)
	}
	if updated.IsPrivate {
		t.Error("explicit IsPrivate=false was not applied")
	}
}

func TestUpdateEchoGoingPrivateClearsCollaborators(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	echo := createTestEcho(t, s, "Trip", "u2", "u3")

	updated, err := s.UpdateEcho(ctx, echo.ID, model.EchoUpdate{
		IsPrivate: model.Some(true),
	})
	if err != nil {
		t.Fatalf("UpdateEcho: %v", err)
	}
	if !updated.IsPrivate {
		t.Fatal("echo did not turn private")
	}
	if updated.ShareMode != model.SharePrivate {
		t.Errorf("share mode = %q, want private", updated.ShareMode)
	}
	if len(updated.CollaboratorIDs) != 0 {
		t.Errorf("collaborators = %v, want empty", updated.CollaboratorIDs)
	}

	// The rows are gone, not just the cache: a reload sees the same.
	if err := s.reloadEcho(ctx, echo.ID); err != nil {
		t.Fatalf("reloadEcho: %v", err)
	}
	if got := s.GetByID(echo.ID); len(got.CollaboratorIDs) != 0 {
		t.Errorf("collaborator rows survived going private: %v", got.CollaboratorIDs)
	}

	// The update op's diff clears the remote set too.
	var diff map[string]any
	for _, op := range pendingOps(t, s) {
		if op.EntityType != queue.EntityEcho || op.Action != queue.ActionUpdate {
			continue
		}
		var payload queue.UpdateEchoPayload
		if err := op.DecodePayload(&payload); err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		if payload.Updates != nil {
			diff = payload.Updates.Fields()
		}
	}
	if diff == nil {
		t.Fatal("no update op with a field diff enqueued")
	}
	if diff["isPrivate"] != true {
		t.Errorf("diff[isPrivate] = %v", diff["isPrivate"])
	}
	ids, ok := diff["collaboratorIds"].([]string)
	if !ok {
		t.Fatalf("diff is missing the cleared collaborator set: %v", diff)
	}
	if len(ids) != 0 {
		t.Errorf("diff[collaboratorIds] = %v, want empty", ids)
	}
}

func TestCreateEchoWithInitialMediaEnqueuesUploads(t *testing.T) {
	s := setupStore(t)
	echo, err := s.CreateEcho(context.Background(), &model.Echo{
		Title:   "Trip",
		OwnerID: "u1",
		Media: []*model.EchoMedia{
			{Type: model.MediaPhoto, URI: "file:///tmp/1.jpg"},
			{Type: model.MediaVideo, URI: "file:///tmp/2.mp4"},
		},
	})
	if err != nil {
		t.Fatalf("CreateEcho: %v", err)
	}
	if len(echo.Media) != 2 {
		t.Fatalf("media rows = %d, want 2", len(echo.Media))
	}

	want := map[string]bool{echo.Media[0].ID: true, echo.Media[1].ID: true}
	var uploads int
	for _, op := range pendingOps(t, s) {
		if op.EntityType == queue.EntityMedia && op.Action == queue.ActionAddMedia {
			uploads++
			if !want[op.EntityID] {
				t.Errorf("add_media op for unknown media %s", op.EntityID)
			}
		}
	}
	if uploads != 2 {
		t.Errorf("got %d add_media ops, want one per initial media row", uploads)
	}
}

func TestUpdateEchoMediaReplacementEnqueuesOps(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	echo := createTestEcho(t, s, "Trip")

	removed, err := s.AddMedia(ctx, echo.ID, &model.EchoMedia{
		Type: model.MediaPhoto, URI: "file:///tmp/old.jpg",
	})
	if err != nil {
		t.Fatalf("AddMedia: %v", err)
	}

	// Replace the set: the old photo goes, a new video arrives.
	updated, err := s.UpdateEcho(ctx, echo.ID, model.EchoUpdate{
		Media: model.Some([]model.EchoMedia{
			{Type: model.MediaVideo, URI: "file:///tmp/new.mp4"},
		}),
	})
	if err != nil {
		t.Fatalf("UpdateEcho: %v", err)
	}
	if len(updated.Media) != 1 || updated.Media[0].Type != model.MediaVideo {
		t.Fatalf("media after replacement = %+v", updated.Media)
	}
	newID := updated.Media[0].ID

	var adds, deletes int
	for _, op := range pendingOps(t, s) {
		switch {
		case op.EntityType == queue.EntityMedia && op.Action == queue.ActionAddMedia:
			var payload queue.AddMediaPayload
			if err := op.DecodePayload(&payload); err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
			if payload.MediaID == newID {
				adds++
			}
			if payload.MediaID == removed.ID {
				t.Error("removed media got an upload op")
			}
		case op.EntityType == queue.EntityMedia && op.Action == queue.ActionDeleteMedia:
			deletes++
			var payload queue.DeleteMediaPayload
			if err := op.DecodePayload(&payload); err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
			if payload.MediaID != removed.ID {
				t.Errorf("delete_media for %s, want %s", payload.MediaID, removed.ID)
			}
			if payload.Type != model.MediaPhoto {
				t.Errorf("delete_media payload type = %q, want photo", payload.Type)
			}
		}
	}
	if adds != 1 {
		t.Errorf("got %d add_media ops for the new item, want 1", adds)
	}
	if deletes != 1 {
		t.Errorf("got %d delete_media ops, want 1", deletes)
	}
}

func TestUpdateEchoMediaReplacementKeepsSurvivors(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	echo := createTestEcho(t, s, "Trip")

	kept, err := s.AddMedia(ctx, echo.ID, &model.EchoMedia{
		Type: model.MediaPhoto, URI: "file:///tmp/kept.jpg",
	})
	if err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	before := len(pendingOps(t, s))

	// Re-submitting the existing row must not mint a duplicate upload.
	if _, err := s.UpdateEcho(ctx, echo.ID, model.EchoUpdate{
		Media: model.Some([]model.EchoMedia{*kept}),
	}); err != nil {
		t.Fatalf("UpdateEcho: %v", err)
	}

	var mediaOps int
	for _, op := range pendingOps(t, s)[before:] {
		if op.EntityType == queue.EntityMedia {
			mediaOps++
		}
	}
	if mediaOps != 0 {
		t.Errorf("got %d media ops for an unchanged set, want 0", mediaOps)
	}
}

func TestUpdateEchoStatusTransitionAddsActivity(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	echo := createTestEcho(t, s, "Trip")

	if _, err := s.UpdateEcho(ctx, echo.ID, model.EchoUpdate{
		Status: model.Some(model.EchoLocked),
	}); err != nil {
		t.Fatalf("UpdateEcho: %v", err)
	}

	activities := s.GetActivities(echo.ID)
	if len(activities) != 2 {
		t.Fatalf("got %d activities, want 2", len(activities))
	}
	// Newest first.
	if activities[0].Type != model.ActivityEchoLocked {
		t.Errorf("newest activity = %q, want echo_locked", activities[0].Type)
	}
}

func TestUpdateEchoNotFound(t *testing.T) {
	s := setupStore(t)
	_, err := s.UpdateEcho(context.Background(), "nope", model.EchoUpdate{Title: model.Some("x")})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestDeleteEchoCascades(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	echo := createTestEcho(t, s, "Trip", "u2")

	if _, err := s.AddMedia(ctx, echo.ID, &model.EchoMedia{
		Type: model.MediaPhoto, URI: "file:///tmp/a.jpg", UploadedBy: "u1",
	}); err != nil {
		t.Fatalf("AddMedia: %v", err)
	}

	if err := s.DeleteEcho(ctx, echo.ID); err != nil {
		t.Fatalf("DeleteEcho: %v", err)
	}

	if s.GetByID(echo.ID) != nil {
		t.Error("deleted echo still readable")
	}
	if len(s.GetActivities(echo.ID)) != 0 {
		t.Error("activities survived echo deletion")
	}
	if s.GetMedia(echo.ID, "") != nil {
		t.Error("media survived echo deletion")
	}

	var deletes int
	for _, op := range pendingOps(t, s) {
		if op.EntityType == queue.EntityEcho && op.Action == queue.ActionDelete {
			deletes++
		}
	}
	if deletes != 1 {
		t.Errorf("got %d delete ops, want 1", deletes)
	}
}

func TestAddCollaborator(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	echo := createTestEcho(t, s, "Trip")

	if err := s.AddCollaborator(ctx, echo.ID, "u2", "Bob"); err != nil {
		t.Fatalf("AddCollaborator: %v", err)
	}

	got := s.GetByID(echo.ID)
	if !got.HasCollaborator("u2") {
		t.Error("u2 missing after add")
	}

	// The op carries a single delta, not the full set.
	var found bool
	for _, op := range pendingOps(t, s) {
		if op.EntityType != queue.EntityEcho || op.Action != queue.ActionUpdate {
			continue
		}
		var payload queue.UpdateEchoPayload
		if err := op.DecodePayload(&payload); err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		if payload.Collaborator == nil {
			continue
		}
		found = true
		if payload.Collaborator.UserID != "u2" || payload.Collaborator.Op != "add" {
			t.Errorf("delta = %+v", payload.Collaborator)
		}
		if payload.Updates != nil {
			t.Error("delta op must not carry a field diff")
		}
	}
	if !found {
		t.Error("no collaborator delta op enqueued")
	}

	activities := s.GetActivities(echo.ID)
	if activities[0].Type != model.ActivityCollaboratorAdded || activities[0].TargetUserID != "u2" {
		t.Errorf("newest activity = %q target %q", activities[0].Type, activities[0].TargetUserID)
	}
}

func TestAddCollaboratorRejectedOnPrivateEcho(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	echo, err := s.CreateEcho(ctx, &model.Echo{Title: "Diary", OwnerID: "u1", IsPrivate: true})
	if err != nil {
		t.Fatalf("CreateEcho: %v", err)
	}
	if err := s.AddCollaborator(ctx, echo.ID, "u2", "Bob"); err == nil {
		t.Error("collaborator add on private echo should fail")
	}
}

func TestRemoveCollaborator(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	echo := createTestEcho(t, s, "Trip", "u2", "u3")

	if err := s.RemoveCollaborator(ctx, echo.ID, "u2"); err != nil {
		t.Fatalf("RemoveCollaborator: %v", err)
	}
	got := s.GetByID(echo.ID)
	if got.HasCollaborator("u2") {
		t.Error("u2 still present after remove")
	}
	if !got.HasCollaborator("u3") {
		t.Error("u3 removed collaterally")
	}
}

func TestAddMediaBatchAggregatedActivity(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	echo := createTestEcho(t, s, "Trip")

	items := []*model.EchoMedia{
		{Type: model.MediaPhoto, URI: "file:///tmp/1.jpg", UploadedBy: "u1"},
		{Type: model.MediaPhoto, URI: "file:///tmp/2.jpg", UploadedBy: "u1"},
		{Type: model.MediaVideo, URI: "file:///tmp/3.mp4", UploadedBy: "u1"},
	}
	added, err := s.AddMediaBatch(ctx, echo.ID, items)
	if err != nil {
		t.Fatalf("AddMediaBatch: %v", err)
	}
	if len(added) != 3 {
		t.Fatalf("got %d items, want 3", len(added))
	}

	// One op per item, one activity for the whole batch.
	var mediaOps, activityOps int
	for _, op := range pendingOps(t, s) {
		switch {
		case op.EntityType == queue.EntityMedia && op.Action == queue.ActionAddMedia:
			mediaOps++
		case op.EntityType == queue.EntityActivity:
			activityOps++
		}
	}
	if mediaOps != 3 {
		t.Errorf("got %d add_media ops, want 3", mediaOps)
	}
	if activityOps != 2 { // echo_created + media_uploaded
		t.Errorf("got %d activity ops, want 2", activityOps)
	}

	activities := s.GetActivities(echo.ID)
	newest := activities[0]
	if newest.Type != model.ActivityMediaUploaded {
		t.Fatalf("newest activity = %q", newest.Type)
	}
	if newest.Description != "added 3 items (2 photos, 1 video)" {
		t.Errorf("description = %q", newest.Description)
	}
	if newest.MediaType != "" {
		t.Errorf("mixed batch should have no uniform media type, got %q", newest.MediaType)
	}
}

func TestRemoveMediaCapturesCleanupContext(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	echo := createTestEcho(t, s, "Trip")

	added, err := s.AddMedia(ctx, echo.ID, &model.EchoMedia{
		Type: model.MediaPhoto, URI: "file:///tmp/a.jpg",
	})
	if err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	if err := s.RemoveMedia(ctx, echo.ID, added.ID); err != nil {
		t.Fatalf("RemoveMedia: %v", err)
	}
	if s.GetMedia(echo.ID, added.ID) != nil {
		t.Error("media still readable after remove")
	}

	var payload queue.DeleteMediaPayload
	var found bool
	for _, op := range pendingOps(t, s) {
		if op.Action == queue.ActionDeleteMedia {
			found = true
			if err := op.DecodePayload(&payload); err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
		}
	}
	if !found {
		t.Fatal("no delete_media op enqueued")
	}
	// The op must carry the type so the blob key survives row deletion.
	if payload.Type != model.MediaPhoto {
		t.Errorf("payload type = %q, want photo", payload.Type)
	}
}

func TestMarkMediaSynced(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	echo := createTestEcho(t, s, "Trip")

	added, err := s.AddMedia(ctx, echo.ID, &model.EchoMedia{
		Type: model.MediaPhoto, URI: "file:///tmp/a.jpg",
	})
	if err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	opsBefore := len(pendingOps(t, s))

	url := "https://storage.googleapis.com/bucket/" + added.BlobKey()
	if err := s.MarkMediaSynced(ctx, echo.ID, added.ID, url, added.BlobKey()); err != nil {
		t.Fatalf("MarkMediaSynced: %v", err)
	}

	got := s.GetMedia(echo.ID, added.ID)
	if got.URI != url {
		t.Errorf("uri = %q", got.URI)
	}
	if got.SyncStatus != model.SyncSynced {
		t.Errorf("status = %q, want synced", got.SyncStatus)
	}
	// Recording remote state must not create new sync intent.
	if len(pendingOps(t, s)) != opsBefore {
		t.Error("MarkMediaSynced enqueued an op")
	}

	if err := s.MarkMediaSynced(ctx, echo.ID, "nope", url, "k"); err == nil {
		t.Error("marking unknown media should fail")
	}
}

func TestPendingMedia(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	echo := createTestEcho(t, s, "Trip")

	first, _ := s.AddMedia(ctx, echo.ID, &model.EchoMedia{Type: model.MediaPhoto, URI: "file:///tmp/1.jpg"})
	second, _ := s.AddMedia(ctx, echo.ID, &model.EchoMedia{Type: model.MediaPhoto, URI: "file:///tmp/2.jpg"})

	pending := s.PendingMedia()
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	ids := map[string]bool{pending[0].ID: true, pending[1].ID: true}
	if !ids[first.ID] || !ids[second.ID] {
		t.Error("pending media should include both items")
	}

	if err := s.MarkMediaSynced(ctx, echo.ID, first.ID, "https://x/y", "y"); err != nil {
		t.Fatalf("MarkMediaSynced: %v", err)
	}
	pending = s.PendingMedia()
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Errorf("pending after sync = %d items", len(pending))
	}
}

func TestGetUserEchoesAndStatusFilter(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	mine := createTestEcho(t, s, "Mine")
	shared := createTestEcho(t, s, "Shared", "u9")
	if _, err := s.UpdateEcho(ctx, shared.ID, model.EchoUpdate{Status: model.Some(model.EchoLocked)}); err != nil {
		t.Fatalf("UpdateEcho: %v", err)
	}

	u9 := s.GetUserEchoes("u9")
	if len(u9) != 1 || u9[0].ID != shared.ID {
		t.Errorf("u9 echoes = %d", len(u9))
	}
	u1 := s.GetUserEchoes("u1")
	if len(u1) != 2 {
		t.Errorf("owner echoes = %d, want 2", len(u1))
	}

	locked := s.GetByStatus(model.EchoLocked)
	if len(locked) != 1 || locked[0].ID != shared.ID {
		t.Errorf("locked = %d", len(locked))
	}
	ongoing := s.GetByStatus(model.EchoOngoing)
	if len(ongoing) != 1 || ongoing[0].ID != mine.ID {
		t.Errorf("ongoing = %d", len(ongoing))
	}
}

func TestReadsReturnCopies(t *testing.T) {
	s := setupStore(t)
	echo := createTestEcho(t, s, "Trip", "u2")

	got := s.GetByID(echo.ID)
	got.Title = "mutated"
	got.CollaboratorIDs[0] = "ux"

	fresh := s.GetByID(echo.ID)
	if fresh.Title != "Trip" {
		t.Error("caller mutation leaked into cache")
	}
	if fresh.CollaboratorIDs[0] == "ux" {
		t.Error("caller mutation leaked into cached collaborators")
	}
}

func TestCachePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "echoes-test.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	echo := createTestEcho(t, s, "Trip", "u2")
	if _, err := s.AddMedia(context.Background(), echo.ID, &model.EchoMedia{
		Type: model.MediaPhoto, URI: "file:///tmp/a.jpg",
	}); err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got := s2.GetByID(echo.ID)
	if got == nil {
		t.Fatal("echo lost across reopen")
	}
	if len(got.Media) != 1 {
		t.Errorf("media count = %d, want 1", len(got.Media))
	}
	if !got.HasCollaborator("u2") {
		t.Error("collaborators lost across reopen")
	}
	if len(s2.GetActivities(echo.ID)) != 2 {
		t.Errorf("activities = %d, want 2", len(s2.GetActivities(echo.ID)))
	}
	// Pending ops survive restarts too.
	if len(pendingOps(t, s2)) == 0 {
		t.Error("pending ops lost across reopen")
	}
}

func TestClearWipesNamespace(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	createTestEcho(t, s, "Trip", "u2")

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(s.GetAll()) != 0 {
		t.Error("echoes survived clear")
	}
	if len(pendingOps(t, s)) != 0 {
		t.Error("pending ops survived clear")
	}
	status, err := s.SyncStatus(ctx, "")
	if err != nil {
		t.Fatalf("SyncStatus: %v", err)
	}
	if !status.Synced() {
		t.Errorf("status after clear = %+v", status)
	}
}

func TestWakeSignalsCoalesce(t *testing.T) {
	s := setupStore(t)
	echo := createTestEcho(t, s, "Trip")

	// Multiple mutations without a consumer: the channel holds at most
	// one signal and never blocks the writer.
	for i := 0; i < 5; i++ {
		if _, err := s.UpdateEcho(context.Background(), echo.ID, model.EchoUpdate{
			Title: model.Some("Rename"),
		}); err != nil {
			t.Fatalf("UpdateEcho: %v", err)
		}
	}

	select {
	case <-s.Wake():
	default:
		t.Fatal("no wake signal after mutations")
	}
	select {
	case <-s.Wake():
		t.Fatal("wake signals did not coalesce")
	default:
	}
}

func TestSyncStatusPerEcho(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	a := createTestEcho(t, s, "A")
	createTestEcho(t, s, "B")

	st, err := s.SyncStatus(ctx, a.ID)
	if err != nil {
		t.Fatalf("SyncStatus: %v", err)
	}
	if st.PendingOps != 2 { // create + echo_created activity
		t.Errorf("echo A pending = %d, want 2", st.PendingOps)
	}
	if st.Synced() {
		t.Error("echo with pending ops reported synced")
	}

	ns, err := s.SyncStatus(ctx, "")
	if err != nil {
		t.Fatalf("SyncStatus: %v", err)
	}
	if ns.PendingOps != 4 {
		t.Errorf("namespace pending = %d, want 4", ns.PendingOps)
	}
}

func TestUpdatedAtMonotonic(t *testing.T) {
	prev := time.Now().UTC().Add(time.Hour) // clock skew: prev is in the future
	next := bumpUpdatedAt(prev)
	if !next.After(prev) {
		t.Errorf("bumpUpdatedAt(%v) = %v, not after", prev, next)
	}
}
