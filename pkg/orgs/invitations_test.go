package orgs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStore_CreateInvitation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	inv, err := store.CreateInvitation(ctx, NewInvitation{
		OrganizationID: 1,
		Email:          "  Casey@Example.COM ",
		RoleName:       "MANAGER",
		InvitedBy:      int64Ptr(2),
	})
	if err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}
	if inv.ID == 0 {
		t.Error("Expected invitation ID to be set")
	}
	if inv.Email != "casey@example.com" {
		t.Errorf("Expected normalized email, got %q", inv.Email)
	}
	if len(inv.Token) != 36 {
		t.Errorf("Expected a UUID token, got %q", inv.Token)
	}
	wantExpiry := time.Now().UTC().Add(DefaultInvitationTTL)
	if inv.ExpiresAt.Before(wantExpiry.Add(-time.Hour)) || inv.ExpiresAt.After(wantExpiry.Add(time.Hour)) {
		t.Errorf("Expected default seven-day expiry, got %v", inv.ExpiresAt)
	}
	if inv.AcceptedAt != nil {
		t.Error("New invitations must be pending")
	}
}

func TestStore_CreateInvitationValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateInvitation(ctx, NewInvitation{OrganizationID: 1, RoleName: "MANAGER"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for missing email, got %v", err)
	}
	if _, err := store.CreateInvitation(ctx, NewInvitation{OrganizationID: 1, Email: "a@b.c"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for missing role name, got %v", err)
	}
}

func TestStore_ReinviteRotatesToken(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateInvitation(ctx, NewInvitation{
		OrganizationID: 1,
		Email:          "casey@example.com",
		RoleName:       "MANAGER",
	})
	if err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}

	// Simulate a past acceptance, then re-invite the same address
	if _, err := db.Exec(`UPDATE org_invitations SET accepted_at = $1 WHERE id = $2`, time.Now().UTC(), first.ID); err != nil {
		t.Fatalf("Failed to mark invitation accepted: %v", err)
	}

	second, err := store.CreateInvitation(ctx, NewInvitation{
		OrganizationID: 1,
		Email:          "Casey@example.com",
		RoleName:       "SUPERVISOR",
	})
	if err != nil {
		t.Fatalf("Re-invite failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected upsert onto row %d, got %d", first.ID, second.ID)
	}
	if second.Token == first.Token {
		t.Error("Expected re-invite to rotate the token")
	}

	stored, err := store.GetInvitationByToken(ctx, second.Token)
	if err != nil {
		t.Fatalf("GetInvitationByToken failed: %v", err)
	}
	if stored.AcceptedAt != nil {
		t.Error("Expected re-invite to clear the previous acceptance")
	}
	if stored.RoleName != "SUPERVISOR" {
		t.Errorf("Expected re-invite to update the role, got %q", stored.RoleName)
	}

	// The old token no longer resolves
	if _, err := store.GetInvitationByToken(ctx, first.Token); !errors.Is(err, ErrInvitationNotFound) {
		t.Errorf("Expected old token to be gone, got %v", err)
	}
}

func TestStore_ListInvitations(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if _, err := store.CreateInvitation(ctx, NewInvitation{OrganizationID: 1, Email: email, RoleName: "CLIENT"}); err != nil {
			t.Fatalf("CreateInvitation failed: %v", err)
		}
	}
	if _, err := store.CreateInvitation(ctx, NewInvitation{OrganizationID: 2, Email: "a@example.com", RoleName: "CLIENT"}); err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}
	// Accepted invitations drop out of the pending list
	if _, err := db.Exec(`UPDATE org_invitations SET accepted_at = $1 WHERE organization_id = 1 AND email = 'b@example.com'`, time.Now().UTC()); err != nil {
		t.Fatalf("Failed to mark invitation accepted: %v", err)
	}

	invitations, err := store.ListInvitations(ctx, 1)
	if err != nil {
		t.Fatalf("ListInvitations failed: %v", err)
	}
	if len(invitations) != 2 {
		t.Fatalf("Expected 2 pending invitations, got %d", len(invitations))
	}
	for _, inv := range invitations {
		if inv.Email == "b@example.com" {
			t.Error("Accepted invitation must not be listed")
		}
		if inv.OrganizationID != 1 {
			t.Errorf("Foreign invitation leaked into listing: %+v", inv)
		}
	}
}

func TestStore_AcceptInvitation(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	seedUser(t, db, 9, "casey@example.com", "Casey Fox")
	seedRole(t, db, 3, 1, "Site Auditor")

	inv, err := store.CreateInvitation(ctx, NewInvitation{
		OrganizationID: 1,
		Email:          "casey@example.com",
		RoleName:       "Site Auditor",
		InvitedBy:      int64Ptr(2),
	})
	if err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}

	member, err := store.AcceptInvitation(ctx, inv.ID, NewMember{
		OrganizationID: 1,
		UserID:         9,
		RoleID:         3,
		InvitedBy:      inv.InvitedBy,
	})
	if err != nil {
		t.Fatalf("AcceptInvitation failed: %v", err)
	}
	if member.ID == 0 || member.UserID != 9 || member.RoleID != 3 {
		t.Errorf("Unexpected member from accept: %+v", member)
	}

	stored, err := store.GetInvitationByToken(ctx, inv.Token)
	if err != nil {
		t.Fatalf("GetInvitationByToken failed: %v", err)
	}
	if stored.AcceptedAt == nil {
		t.Error("Expected invitation to be marked accepted")
	}

	// A second accept of the same invitation loses the update guard
	if _, err := store.AcceptInvitation(ctx, inv.ID, NewMember{OrganizationID: 1, UserID: 10, RoleID: 3}); !errors.Is(err, ErrInvitationAccepted) {
		t.Errorf("Expected ErrInvitationAccepted, got %v", err)
	}
}

func TestStore_AcceptInvitationExistingMemberRollsBack(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	seedUser(t, db, 9, "casey@example.com", "Casey Fox")
	seedRole(t, db, 3, 1, "Site Auditor")

	if _, err := store.AddMember(ctx, NewMember{OrganizationID: 1, UserID: 9, RoleID: 3}); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	inv, err := store.CreateInvitation(ctx, NewInvitation{
		OrganizationID: 1,
		Email:          "casey@example.com",
		RoleName:       "Site Auditor",
	})
	if err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}

	_, err = store.AcceptInvitation(ctx, inv.ID, NewMember{OrganizationID: 1, UserID: 9, RoleID: 3})
	if !errors.Is(err, ErrMemberExists) {
		t.Fatalf("Expected ErrMemberExists, got %v", err)
	}

	// The failed accept must not consume the invitation
	stored, err := store.GetInvitationByToken(ctx, inv.Token)
	if err != nil {
		t.Fatalf("GetInvitationByToken failed: %v", err)
	}
	if stored.AcceptedAt != nil {
		t.Error("Expected invitation to stay pending after rollback")
	}
}

func TestStore_RevokeInvitation(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	inv, err := store.CreateInvitation(ctx, NewInvitation{OrganizationID: 1, Email: "a@example.com", RoleName: "CLIENT"})
	if err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}

	// Organization scoping applies to revocation
	if err := store.RevokeInvitation(ctx, 2, inv.ID); !errors.Is(err, ErrInvitationNotFound) {
		t.Errorf("Expected ErrInvitationNotFound across orgs, got %v", err)
	}

	if err := store.RevokeInvitation(ctx, 1, inv.ID); err != nil {
		t.Fatalf("RevokeInvitation failed: %v", err)
	}
	if _, err := store.GetInvitationByToken(ctx, inv.Token); !errors.Is(err, ErrInvitationNotFound) {
		t.Errorf("Expected invitation gone, got %v", err)
	}

	// Accepted invitations cannot be revoked
	accepted, err := store.CreateInvitation(ctx, NewInvitation{OrganizationID: 1, Email: "b@example.com", RoleName: "CLIENT"})
	if err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}
	if _, err := db.Exec(`UPDATE org_invitations SET accepted_at = $1 WHERE id = $2`, time.Now().UTC(), accepted.ID); err != nil {
		t.Fatalf("Failed to mark invitation accepted: %v", err)
	}
	if err := store.RevokeInvitation(ctx, 1, accepted.ID); !errors.Is(err, ErrInvitationNotFound) {
		t.Errorf("Expected ErrInvitationNotFound for accepted invitation, got %v", err)
	}
}

func TestStore_CleanupExpiredInvitations(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	expired, err := store.CreateInvitation(ctx, NewInvitation{OrganizationID: 1, Email: "a@example.com", RoleName: "CLIENT"})
	if err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}
	if _, err := store.CreateInvitation(ctx, NewInvitation{OrganizationID: 1, Email: "b@example.com", RoleName: "CLIENT"}); err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}
	acceptedExpired, err := store.CreateInvitation(ctx, NewInvitation{OrganizationID: 1, Email: "c@example.com", RoleName: "CLIENT"})
	if err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := db.Exec(`UPDATE org_invitations SET expires_at = $1 WHERE id = $2`, past, expired.ID); err != nil {
		t.Fatalf("Failed to expire invitation: %v", err)
	}
	if _, err := db.Exec(`UPDATE org_invitations SET expires_at = $1, accepted_at = $2 WHERE id = $3`, past, past, acceptedExpired.ID); err != nil {
		t.Fatalf("Failed to expire invitation: %v", err)
	}

	deleted, err := store.CleanupExpiredInvitations(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredInvitations failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted invitation, got %d", deleted)
	}

	// The live one survives; the accepted one is history, not garbage
	invitations, err := store.ListInvitations(ctx, 1)
	if err != nil {
		t.Fatalf("ListInvitations failed: %v", err)
	}
	if len(invitations) != 1 || invitations[0].Email != "b@example.com" {
		t.Errorf("Expected only the live invitation to remain, got %+v", invitations)
	}
}
