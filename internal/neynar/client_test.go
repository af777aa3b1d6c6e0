package neynar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUserByAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("api key header = %q", r.Header.Get("x-api-key"))
		}
		switch r.URL.Path {
		case "/user/bulk-by-address":
			if r.URL.Query().Get("addresses") == "0xNobody" {
				http.NotFound(w, r)
				return
			}
			w.Write([]byte(`{"0xabc":[{"fid":7,"username":"alice","display_name":"Alice","pfp_url":"https://i.example/a.png",
				"verified_addresses":{"eth_addresses":["0xabc","0xdef"],"primary":{"eth_address":"0xabc"}}}]}`))
		case "/user/bulk":
			w.Write([]byte(`{"users":[{"fid":7,"username":"alice"}]}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, 100)
	ctx := context.Background()

	u, err := c.UserByAddress(ctx, "0xABC")
	if err != nil {
		t.Fatalf("UserByAddress: %v", err)
	}
	if u == nil || u.FID != 7 || u.DisplayName != "Alice" || len(u.VerifiedAddresses.EthAddresses) != 2 {
		t.Fatalf("user = %+v", u)
	}
	if u.VerifiedAddresses.Primary.EthAddress != "0xabc" {
		t.Errorf("primary = %q", u.VerifiedAddresses.Primary.EthAddress)
	}

	none, err := c.UserByAddress(ctx, "0xNobody")
	if err != nil || none != nil {
		t.Errorf("missing profile = %+v, %v", none, err)
	}

	byFID, err := c.UserByFID(ctx, 7)
	if err != nil || byFID == nil || byFID.Username != "alice" {
		t.Errorf("UserByFID = %+v, %v", byFID, err)
	}
}

func TestFormatAvatar(t *testing.T) {
	tests := map[string]string{
		"https://imagedelivery.net/abc/xyz/original": "https://imagedelivery.net/abc/xyz/anim=false,fit=contain,f=auto,w=512",
		"https://imagedelivery.net/abc/xyz/public":   "https://imagedelivery.net/abc/xyz/anim=false,fit=contain,f=auto,w=512",
		"https://imagedelivery.net/abc/xyz/other":    "https://imagedelivery.net/abc/xyz/other",
		"https://i.imgur.com/a.png":                  "https://i.imgur.com/a.png",
	}
	for in, want := range tests {
		if got := FormatAvatar(in); got != want {
			t.Errorf("FormatAvatar(%q) = %q, want %q", in, got, want)
		}
	}
}
