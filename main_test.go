package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"difyline/webhook"
)

func TestSignCmd_Stdin(t *testing.T) {
	body := []byte(`{"destination":"U0","events":[]}`)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(bytes.NewReader(body))
	cmd.SetArgs([]string{"sign", "--secret", "s3cret"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got, want := strings.TrimSpace(out.String()), webhook.Sign("s3cret", body); got != want {
		t.Errorf("signature: got %q want %q", got, want)
	}
}

func TestSignCmd_File(t *testing.T) {
	body := []byte(`{"events":[]}`)
	path := filepath.Join(t.TempDir(), "body.json")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sign", "--secret", "abc", path})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got := strings.TrimSpace(out.String()); !webhook.VerifySignature("abc", body, got) {
		t.Errorf("printed signature %q does not verify", got)
	}
}

func TestSignCmd_NoSecret(t *testing.T) {
	t.Setenv("LINE_CHANNEL_SECRET", "")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("{}"))
	cmd.SetArgs([]string{"sign"})

	if err := cmd.Execute(); err == nil {
		t.Error("expected an error without a channel secret")
	}
}

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Errorf("version: got %q", out.String())
	}
}
