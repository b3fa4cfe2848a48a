package ui

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func newTestConsole(input string) (*Console, *bytes.Buffer) {
	var out bytes.Buffer
	return New(strings.NewReader(input), &out), &out
}

func TestChooseRepeatsUntilValid(t *testing.T) {
	c, out := newTestConsole("abc\n9\n2\n")
	n, err := c.Choose("Select", 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("got %d, want 2", n)
	}
	if got := strings.Count(out.String(), "Enter a number between 1 and 3"); got != 2 {
		t.Errorf("got %d inline errors, want 2:\n%s", got, out.String())
	}
}

func TestChooseDefault(t *testing.T) {
	c, _ := newTestConsole("\n")
	n, err := c.Choose("Select", 3, 1)
	if err != nil || n != 1 {
		t.Errorf("got %d, %v", n, err)
	}
}

func TestAskDefaultAndEOF(t *testing.T) {
	c, _ := newTestConsole("\n  value  \nlast")
	v, err := c.Ask("Name", "fallback")
	if err != nil || v != "fallback" {
		t.Errorf("got %q, %v", v, err)
	}
	if v, _ = c.Ask("Name", ""); v != "value" {
		t.Errorf("got %q", v)
	}
	if v, _ = c.Ask("Name", ""); v != "last" {
		t.Errorf("unterminated last line: got %q", v)
	}
	if _, err = c.Ask("Name", ""); !errors.Is(err, ErrInputClosed) {
		t.Errorf("got %v, want ErrInputClosed", err)
	}
}

func TestAskValid(t *testing.T) {
	c, out := newTestConsole("\nok\n")
	v, err := c.AskValid("Name", "", func(s string) error {
		if s == "" {
			return fmt.Errorf("name: must not be empty")
		}
		return nil
	})
	if err != nil || v != "ok" {
		t.Errorf("got %q, %v", v, err)
	}
	if !strings.Contains(out.String(), "name: must not be empty") {
		t.Errorf("validation error not shown:\n%s", out.String())
	}
}

func TestConfirm(t *testing.T) {
	c, _ := newTestConsole("maybe\ny\n\nNO\n")
	for i, want := range []bool{true, false, false} {
		got, err := c.Confirm("Sure?", false)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("answer %d = %t, want %t", i, got, want)
		}
	}
}

func TestSecret(t *testing.T) {
	c, _ := newTestConsole(" sk-123 \n")
	if v, err := c.Secret("API key"); err != nil || v != "sk-123" {
		t.Errorf("got %q, %v", v, err)
	}

	var seen string
	c = New(strings.NewReader(""), &bytes.Buffer{}, WithSecretReader(func(p string) (string, error) {
		seen = p
		return "hidden", nil
	}))
	if v, _ := c.Secret("API key"); v != "hidden" || seen != "API key" {
		t.Errorf("secret reader not used: %q %q", v, seen)
	}
}

func TestRenderingWithoutTerminal(t *testing.T) {
	c, out := newTestConsole("")
	c.Menu("Main menu", []string{"Ingest", "Exit"})
	c.Table([]string{"ID", "Name"}, [][]string{{"1", "gpt"}})
	c.KeyValues("Provider", [][2]string{{"Model", "gpt-4o"}, {"Key", "sk-...123"}})
	s := out.String()
	for _, want := range []string{"1. Ingest", "2. Exit", "Name", "gpt", "Model", "gpt-4o"} {
		if !strings.Contains(s, want) {
			t.Errorf("output misses %q:\n%s", want, s)
		}
	}
	if strings.Contains(s, "\x1b[") {
		t.Errorf("escape codes written to a non-terminal:\n%q", s)
	}
}

func TestSecretModel(t *testing.T) {
	m := newSecretModel("Key")
	if m.input.EchoMode == 0 {
		t.Error("secret input should not echo")
	}
	if maskedEcho("") != "(empty)" || maskedEcho("x") == "x" {
		t.Error("masked echo leaks the value")
	}
}
