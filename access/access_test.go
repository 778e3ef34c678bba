package access

import (
	"context"
	"errors"
	"testing"

	"fidexa/apperr"
	"fidexa/auth"
)

type fakeRoles map[string][]auth.Role

func (f fakeRoles) Roles(_ context.Context, userID string) ([]auth.Role, error) {
	return f[userID], nil
}

type fakeOwners map[string]string

func (f fakeOwners) ProviderOf(_ context.Context, dealID string) (string, error) {
	owner, ok := f[dealID]
	if !ok {
		return "", apperr.New(apperr.KindNotFound, "deal: not found")
	}
	return owner, nil
}

func newChecker() *Checker {
	return NewChecker(
		fakeRoles{
			"prov-1": {auth.RoleProvider},
			"prov-2": {auth.RoleProvider},
			"ops-1":  {auth.RoleAdmin},
		},
		fakeOwners{"deal-a": "prov-1", "deal-b": "prov-2"},
	)
}

func TestCheckerPrimitives(t *testing.T) {
	ctx := context.Background()
	c := newChecker()

	if ok, _ := c.HasRole(ctx, "prov-1", auth.RoleProvider); !ok {
		t.Fatalf("expected prov-1 to hold provider")
	}
	if ok, _ := c.HasRole(ctx, "", auth.RoleProvider); ok {
		t.Fatalf("anonymous principal holds no role")
	}
	if ok, _ := c.IsAdmin(ctx, auth.Principal{UserID: "ops-1"}); !ok {
		t.Fatalf("expected ops-1 to be admin")
	}
	if ok, _ := c.IsProvider(ctx, auth.Principal{UserID: "ops-1"}); ok {
		t.Fatalf("ops-1 is not a provider")
	}
	if ok, _ := c.IsDealOwner(ctx, auth.Principal{UserID: "prov-1"}, "deal-a"); !ok {
		t.Fatalf("expected prov-1 to own deal-a")
	}
	if ok, _ := c.IsDealOwner(ctx, auth.Principal{UserID: "prov-1"}, "deal-b"); ok {
		t.Fatalf("prov-1 must not own deal-b")
	}
	ok, err := c.IsDealOwner(ctx, auth.Principal{UserID: "prov-1"}, "missing")
	if err != nil || ok {
		t.Fatalf("unknown deal should be unowned without error, got %v %v", ok, err)
	}
}

func TestActorForResolvesShapes(t *testing.T) {
	ctx := context.Background()
	c := newChecker()

	a, err := c.ActorFor(ctx, auth.Principal{UserID: "prov-1"}, "deal-a", "Awa")
	if err != nil || a.Kind != KindProvider || a.UserID != "prov-1" {
		t.Fatalf("expected provider actor, got %+v %v", a, err)
	}

	a, err = c.ActorFor(ctx, auth.Principal{UserID: "ops-1"}, "deal-a", "")
	if err != nil || a.Kind != KindAdmin {
		t.Fatalf("expected admin actor, got %+v %v", a, err)
	}

	_, err = c.ActorFor(ctx, auth.Principal{UserID: "prov-2"}, "deal-a", "")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for foreign provider, got %v", err)
	}
}

func TestBindToDeal(t *testing.T) {
	cases := []struct {
		name  string
		actor Actor
		want  error
	}{
		{"client own deal", Client("deal-a", "Moussa"), nil},
		{"client other deal", Client("deal-b", "Moussa"), apperr.ErrNotFound},
		{"client unbound", Actor{Kind: KindClient}, apperr.ErrNotFound},
		{"provider owner", Provider("prov-1", ""), nil},
		{"provider stranger", Provider("prov-2", ""), apperr.ErrForbidden},
		{"admin", Admin("ops-1", ""), nil},
		{"system", TimeoutActor, nil},
		{"unknown kind", Actor{Kind: "robot"}, apperr.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := BindToDeal(tc.actor, "deal-a", "prov-1")
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestActorReference(t *testing.T) {
	if Client("deal-a", "x").Reference() != nil {
		t.Fatalf("client actors carry no principal reference")
	}
	if TimeoutActor.Reference() != nil {
		t.Fatalf("system actors carry no principal reference")
	}
	ref := Provider("prov-1", "").Reference()
	if ref == nil || *ref != "prov-1" {
		t.Fatalf("expected provider reference, got %v", ref)
	}
	if TimeoutActor.DisplayLabel() != "system/timeout" {
		t.Fatalf("unexpected timeout label %q", TimeoutActor.DisplayLabel())
	}
	if !Permits([]Kind{KindProvider, KindClient}, Client("deal-a", "")) {
		t.Fatalf("expected client permitted")
	}
	if Permits([]Kind{KindAdmin}, Provider("prov-1", "")) {
		t.Fatalf("provider must not be permitted for admin-only")
	}
}
