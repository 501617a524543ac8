package utils

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestOpenRedis(t *testing.T) {
	if rc := OpenRedis("", "", 0); rc != nil {
		t.Fatalf("empty addr should disable redis")
	}
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	rc := PingRedis(context.Background(), OpenRedis(mr.Addr(), "", 0))
	if rc == nil {
		t.Fatalf("ping against miniredis failed")
	}
	defer rc.Close()
	mr.Close()
	if PingRedis(context.Background(), OpenRedis(mr.Addr(), "", 0)) != nil {
		t.Fatalf("ping against closed server should fail")
	}
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	if _, err := OpenPostgres(""); !errors.Is(err, ErrNoDSN) {
		t.Fatalf("expected ErrNoDSN, got %v", err)
	}
	db, err := OpenPostgres("postgres://u@127.0.0.1:1/db?sslmode=disable")
	if err != nil {
		t.Fatalf("sql.Open should be lazy: %v", err)
	}
	db.Close()
}
