package browser_test

import (
	"context"
	"errors"
	"testing"

	"google_account/internal/browser"
	"google_account/internal/browser/browsertest"
)

func TestLocatorString(t *testing.T) {
	cases := map[string]browser.Locator{
		"css:#identifierId":          browser.CSS("#identifierId"),
		"xpath://input[@name='x']":   browser.XPath("//input[@name='x']"),
		"text:button/Next|下一步":       browser.Text("button", "Next|下一步"),
	}
	for want, loc := range cases {
		if got := loc.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestClickFirst(t *testing.T) {
	next := browser.Text("button", "Next")
	p := browsertest.New("a", map[string]*browsertest.Screen{
		"a": {URL: "https://x/a", Present: []browser.Locator{next}, Clicks: map[string]string{next.String(): "b"}},
		"b": {URL: "https://x/b"},
	})
	ctx := context.Background()

	if err := browser.ClickFirst(ctx, p, browser.CSS("#missing"), next); err != nil {
		t.Fatalf("ClickFirst: %v", err)
	}
	if p.URL() != "https://x/b" {
		t.Fatalf("url = %s", p.URL())
	}
	if err := browser.ClickFirst(ctx, p, next); !errors.Is(err, browser.ErrElementNotFound) {
		t.Fatalf("err = %v, want ErrElementNotFound", err)
	}
	if _, ok := browser.FirstExisting(ctx, p, next); ok {
		t.Fatal("next should be gone on screen b")
	}
}
