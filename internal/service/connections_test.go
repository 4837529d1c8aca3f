package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"healthdash/internal/auth"
	"healthdash/internal/store"
)

func setupConnections(t *testing.T) (*ConnectionService, *store.Store, *atomic.Int32) {
	t.Helper()

	st, err := store.NewTestStore()
	if err != nil {
		t.Fatalf("NewTestStore() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"access-1","refresh_token":"refresh-1","expires_in":3600,"token_type":"Bearer"}`)
	}))
	t.Cleanup(server.Close)

	cfg := auth.NewOAuthConfig(auth.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/api-connections/google-fit/callback",
		TokenURL:     server.URL,
	})
	return NewConnectionService(st, cfg, server.Client(), zap.NewNop()), st, &hits
}

func TestAuthorizationFlow(t *testing.T) {
	svc, st, hits := setupConnections(t)
	ctx := context.Background()

	authz, err := svc.BeginAuthorization(ctx, 5)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}
	u, err := url.Parse(authz.AuthURL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if got := u.Query().Get("state"); got != authz.State {
		t.Errorf("auth URL state = %q, want %q", got, authz.State)
	}

	infos, err := svc.List(ctx, 5)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 1 || !infos[0].Pending || infos[0].IsActive {
		t.Fatalf("List() = %+v, want one pending connection", infos)
	}

	conn, err := svc.CompleteAuthorization(ctx, authz.State, "good-code")
	if err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	if !conn.IsActive || conn.State() != "" {
		t.Errorf("connection = %+v, want active without state", conn)
	}
	if hits.Load() != 1 {
		t.Errorf("token endpoint hits = %d, want 1", hits.Load())
	}

	stored, err := st.GetActiveConnection(ctx, 5, store.ProviderGoogleFit)
	if err != nil {
		t.Fatalf("GetActiveConnection() error = %v", err)
	}
	if stored.AccessToken != "access-1" || stored.RefreshToken != "refresh-1" || stored.TokenExpiresAt == nil {
		t.Errorf("stored connection = %+v", stored)
	}

	// The state is single use
	if _, err := svc.CompleteAuthorization(ctx, authz.State, "good-code"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("reused state error = %v, want ErrInvalidState", err)
	}
}

func TestCompleteAuthorization_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		state     func(real string) string
		code      string
		wantErr   error
		wantHits  int32
		wantState bool
	}{
		{name: "unknown state", state: func(string) string { return "forged" }, code: "good-code", wantErr: ErrInvalidState, wantState: true},
		{name: "empty state", state: func(string) string { return "" }, code: "good-code", wantErr: ErrInvalidState, wantState: true},
		{name: "bad code", state: func(real string) string { return real }, code: "bad-code", wantHits: 1, wantState: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, hits := setupConnections(t)
			ctx := context.Background()

			authz, err := svc.BeginAuthorization(ctx, 1)
			if err != nil {
				t.Fatalf("BeginAuthorization() error = %v", err)
			}

			_, err = svc.CompleteAuthorization(ctx, tt.state(authz.State), tt.code)
			if err == nil {
				t.Fatal("CompleteAuthorization() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("CompleteAuthorization() error = %v, want %v", err, tt.wantErr)
			}
			if got := hits.Load(); got != tt.wantHits {
				t.Errorf("token endpoint hits = %d, want %d", got, tt.wantHits)
			}

			if _, err := st.GetActiveConnection(ctx, 1, store.ProviderGoogleFit); !errors.Is(err, store.ErrConnectionNotFound) {
				t.Errorf("connection became active: %v", err)
			}
			if _, err := st.GetConnectionByState(ctx, store.ProviderGoogleFit, authz.State); (err == nil) != tt.wantState {
				t.Errorf("pending state kept = %v, want %v", err == nil, tt.wantState)
			}
		})
	}
}

func TestBeginAuthorization_KeepsActiveTokens(t *testing.T) {
	svc, st, _ := setupConnections(t)
	ctx := context.Background()

	active := &store.Connection{UserID: 2, Provider: store.ProviderGoogleFit, AccessToken: "a", RefreshToken: "r", IsActive: true}
	if err := st.SaveConnection(ctx, active); err != nil {
		t.Fatalf("SaveConnection() error = %v", err)
	}

	if _, err := svc.BeginAuthorization(ctx, 2); err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}

	got, err := st.GetActiveConnection(ctx, 2, store.ProviderGoogleFit)
	if err != nil {
		t.Fatalf("GetActiveConnection() error = %v", err)
	}
	if got.AccessToken != "a" || got.State() == "" {
		t.Errorf("connection = %+v, want tokens kept and state set", got)
	}
}

func TestDeleteConnection(t *testing.T) {
	svc, st, _ := setupConnections(t)
	ctx := context.Background()

	c := &store.Connection{UserID: 3, Provider: store.ProviderGoogleFit, AccessToken: "a", IsActive: true}
	if err := st.SaveConnection(ctx, c); err != nil {
		t.Fatalf("SaveConnection() error = %v", err)
	}

	if err := svc.Delete(ctx, 4, c.ID); !errors.Is(err, store.ErrConnectionNotFound) {
		t.Errorf("Delete() other user error = %v, want ErrConnectionNotFound", err)
	}
	if err := svc.Delete(ctx, 3, c.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	infos, err := svc.List(ctx, 3)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("List() = %+v, want empty", infos)
	}
}
