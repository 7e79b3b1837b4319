package realtime

import (
	"testing"
	"time"

	"github.com/hitoshi/ltme/internal/model"
)

func TestDecodeChange(t *testing.T) {
	t.Run("トリガーのペイロード", func(t *testing.T) {
		payload := `{"table":"follows","op":"INSERT","user_id":"u1","target_id":"u2","at":"2024-01-02T03:04:05.123456+00:00"}`
		c, err := DecodeChange(payload)
		if err != nil {
			t.Fatalf("DecodeChange() error = %v", err)
		}
		want := model.Change{
			Table:    model.TableFollows,
			Op:       model.ChangeInsert,
			UserID:   "u1",
			TargetID: "u2",
			At:       time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC),
		}
		if c.Table != want.Table || c.Op != want.Op || c.UserID != want.UserID || c.TargetID != want.TargetID {
			t.Errorf("DecodeChange() = %+v, want %+v", c, want)
		}
		if !c.At.Equal(want.At) {
			t.Errorf("At = %v, want %v", c.At, want.At)
		}
	})

	t.Run("不正なJSON", func(t *testing.T) {
		if _, err := DecodeChange("{"); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("テーブル欠落", func(t *testing.T) {
		if _, err := DecodeChange(`{"op":"DELETE"}`); err == nil {
			t.Error("expected error")
		}
	})
}
