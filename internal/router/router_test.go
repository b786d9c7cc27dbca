package router

import (
	"errors"
	"testing"

	"app_kernel/internal/controller"
)

func noopAction(*controller.Context) (any, error) { return nil, nil }

func namedAction(name string, hits *[]string) controller.Action {
	return func(*controller.Context) (any, error) {
		*hits = append(*hits, name)
		return name, nil
	}
}

func TestResolveCapturesPlaceholdersInDeclaredOrder(t *testing.T) {
	table := NewTable(nil)
	if err := table.GET("/shops/{shop}/items/{item}", noopAction); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	match, err := table.Resolve("GET", "/shops/north/items/42")
	if err != nil {
		t.Fatalf("expected a match, got %v", err)
	}
	if len(match.Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(match.Params))
	}
	if match.Params[0].Name != "shop" || match.Params[0].Value != "north" {
		t.Errorf("first param: expected shop=north, got %s=%s", match.Params[0].Name, match.Params[0].Value)
	}
	if match.Params[1].Name != "item" || match.Params[1].Value != "42" {
		t.Errorf("second param: expected item=42, got %s=%s", match.Params[1].Name, match.Params[1].Value)
	}
}

func TestResolveRootPattern(t *testing.T) {
	table := NewTable(nil)
	if err := table.GET("/", noopAction); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := table.Resolve("GET", "/"); err != nil {
		t.Fatalf("expected root to resolve, got %v", err)
	}
}

func TestResolveNotFound(t *testing.T) {
	table := NewTable(nil)
	if err := table.GET("/users/{id}", noopAction); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, err := table.Resolve("GET", "/orders/7")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
	if nf.Path != "/orders/7" {
		t.Errorf("expected path recorded, got %q", nf.Path)
	}
}

func TestResolveMethodNotAllowed(t *testing.T) {
	table := NewTable(nil)
	if err := table.GET("/users/{id}", noopAction); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := table.DELETE("/users/{id}", noopAction); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, err := table.Resolve("POST", "/users/9")
	var mna *MethodNotAllowedError
	if !errors.As(err, &mna) {
		t.Fatalf("expected *MethodNotAllowedError, got %v", err)
	}
	if mna.Method != "POST" {
		t.Errorf("expected method recorded, got %q", mna.Method)
	}
	if len(mna.Allowed) != 2 || mna.Allowed[0] != "DELETE" || mna.Allowed[1] != "GET" {
		t.Errorf("expected allowed methods [DELETE GET], got %v", mna.Allowed)
	}
}

func TestEarlierRegistrationWinsOnOverlap(t *testing.T) {
	var hits []string

	table := NewTable(nil)
	if err := table.GET("/users/{id}", namedAction("placeholder", &hits)); err != nil {
		t.Fatal(err)
	}
	if err := table.GET("/users/me", namedAction("literal", &hits)); err != nil {
		t.Fatal(err)
	}

	match, err := table.Resolve("GET", "/users/me")
	if err != nil {
		t.Fatalf("expected a match, got %v", err)
	}
	if body, _ := match.Route.Handler(nil); body != "placeholder" {
		t.Errorf("expected earlier route to win, got %v", body)
	}

	// Reversed order: the literal route registered first now wins.
	reversed := NewTable(nil)
	if err := reversed.GET("/users/me", namedAction("literal", &hits)); err != nil {
		t.Fatal(err)
	}
	if err := reversed.GET("/users/{id}", namedAction("placeholder", &hits)); err != nil {
		t.Fatal(err)
	}
	match, err = reversed.Resolve("GET", "/users/me")
	if err != nil {
		t.Fatalf("expected a match, got %v", err)
	}
	if body, _ := match.Route.Handler(nil); body != "literal" {
		t.Errorf("expected earlier route to win after reorder, got %v", body)
	}
}

func TestMethodAgnosticRoute(t *testing.T) {
	table := NewTable(nil)
	if err := table.Any("/ping", noopAction); err != nil {
		t.Fatal(err)
	}
	for _, method := range []string{"GET", "POST", "DELETE", "OPTIONS"} {
		if _, err := table.Resolve(method, "/ping"); err != nil {
			t.Errorf("method %s: expected match, got %v", method, err)
		}
	}
}

func TestMethodComparisonIsCaseInsensitive(t *testing.T) {
	table := NewTable(nil)
	if err := table.Handle("get", "/things", noopAction); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Resolve("GET", "/things"); err != nil {
		t.Errorf("expected lower-case registration to match, got %v", err)
	}
}

func TestTrailingSlashesNormalized(t *testing.T) {
	table := NewTable(nil)
	if err := table.GET("/about/", noopAction); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Resolve("GET", "/about"); err != nil {
		t.Errorf("expected trailing slash in pattern to be ignored, got %v", err)
	}
	if _, err := table.Resolve("GET", "/about/"); err != nil {
		t.Errorf("expected trailing slash in path to be ignored, got %v", err)
	}
}

func TestLiteralsCompareCaseSensitively(t *testing.T) {
	table := NewTable(nil)
	if err := table.GET("/Users", noopAction); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Resolve("GET", "/users"); err == nil {
		t.Error("expected case-sensitive literal mismatch")
	}
}

func TestFreezeBlocksRegistration(t *testing.T) {
	table := NewTable(nil)
	table.Freeze()
	err := table.GET("/late", noopAction)
	if !errors.Is(err, ErrTableFrozen) {
		t.Fatalf("expected ErrTableFrozen, got %v", err)
	}
}

func TestPatternValidation(t *testing.T) {
	cases := []struct {
		pattern string
		wantErr bool
	}{
		{"/", false},
		{"/users/{id}", false},
		{"/a/b/c", false},
		{"", true},
		{"users", true},
		{"/users/{}", true},
		{"/users/{id}/{id}", true},
		{"/users/v{1}", true},
		{"/users//detail", true},
	}

	for _, tc := range cases {
		table := NewTable(nil)
		err := table.GET(tc.pattern, noopAction)
		if tc.wantErr && err == nil {
			t.Errorf("pattern %q: expected error", tc.pattern)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("pattern %q: unexpected error %v", tc.pattern, err)
		}
	}
}

func TestRegisterRequiresHandler(t *testing.T) {
	table := NewTable(nil)
	if err := table.Register(Route{Pattern: "/x"}); err == nil {
		t.Error("expected error for route without handler")
	}
}
