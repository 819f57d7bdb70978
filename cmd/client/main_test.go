package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/atinyakov/qrmenu/internal/client/api"
	"github.com/atinyakov/qrmenu/internal/repository"
	handler "github.com/atinyakov/qrmenu/internal/server/handler/http"
	"github.com/atinyakov/qrmenu/internal/service"
)

func newClient(t *testing.T) *api.Client {
	t.Helper()
	log := zap.NewNop()
	docs := repository.NewDocuments(repository.NewMemoryStore(), log)
	srv := httptest.NewServer(handler.NewRouter(
		&handler.UsersHandler{Users: service.NewUserService(docs, log), AdminSecret: "s", Log: log},
		&handler.MenuHandler{Menus: service.NewMenuService(docs, nil, log), Log: log},
		handler.RouterOptions{AdminSecret: "s"},
		log,
	))
	t.Cleanup(srv.Close)
	return api.New(srv.URL, "demo", "s")
}

func TestRepl_MenuPushAndPull(t *testing.T) {
	c := newClient(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "in.json")
	dst := filepath.Join(dir, "out.json")
	if err := os.WriteFile(src, []byte(`[{"id":"1","name":"Soup","price":4.5}]`), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	in := strings.NewReader("menu-push " + src + "\nmenu-pull " + dst + "\nexit\n")
	repl(c, in, &out)

	if !strings.Contains(out.String(), "Committed 1 items to public/menus/demo.json") {
		t.Errorf("output = %q; want commit confirmation", out.String())
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"name": "Soup"`) {
		t.Errorf("pulled menu = %s", data)
	}
	if !strings.HasSuffix(out.String(), "Bye\n") {
		t.Errorf("output = %q; want Bye at the end", out.String())
	}
}

func TestRepl_Users(t *testing.T) {
	c := newClient(t)

	var out bytes.Buffer
	in := strings.NewReader("users\napprove ghost\ndelete admin\npasswd admin\nN3w!Secret\nfrobnicate\n")
	repl(c, in, &out)

	got := out.String()
	for _, want := range []string{
		"Allowed: admin",
		"Error: api error 404: not-pending",
		"Error: api error 400: no-admin-delete",
		"Password updated",
		"Unknown command",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), api.New("http://127.0.0.1:1", "demo", "s"), []string{"approve"}, &out)
	if err == nil || !strings.Contains(err.Error(), "usage") {
		t.Errorf("err = %v; want usage error", err)
	}
}
