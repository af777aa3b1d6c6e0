package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestBaseModel_FlattenedIntoRows(t *testing.T) {
	id := uuid.MustParse("0190d1a4-0000-7000-8000-000000000001")
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	base := BaseModel{ID: id, CreatedAt: at, UpdatedAt: at}

	tests := []struct {
		name string
		row  any
	}{
		{"user", UserData{BaseModel: base, InboxID: "inbox-a"}},
		{"group", GroupData{BaseModel: base, ConversationID: "conv-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.row)
			if err != nil {
				t.Fatal(err)
			}
			var got map[string]any
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatal(err)
			}
			want := map[string]any{
				"id":         id.String(),
				"created_at": "2025-01-02T03:04:05Z",
				"updated_at": "2025-01-02T03:04:05Z",
			}
			for k, v := range want {
				if diff := cmp.Diff(v, got[k]); diff != "" {
					t.Errorf("%s (-want +got):\n%s", k, diff)
				}
			}
		})
	}
}
