package launcher

import (
	"strings"
	"testing"
)

func TestBuildReadOnlyRootfsWithoutOverlay(t *testing.T) {
	argv := Build("/usr/bin/bwrap", Config{
		RootfsDir:     "/cache/abc",
		Writable:      false,
		WorkDir:       "/tmp/work",
		ScratchTmpDir: "/tmp/scratch",
		Identity:      Identity{UID: 1000, Username: "sandbox"},
		NewSession:    true,
		Command:       "echo hi",
	})

	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "--ro-bind /cache/abc /") {
		t.Fatalf("expected ro-bind of rootfs, got %q", joined)
	}
	if !strings.Contains(joined, "--bind /tmp/work /home/sandbox") {
		t.Fatalf("expected work dir bound at home, got %q", joined)
	}
	if !strings.Contains(joined, "--new-session") {
		t.Fatalf("expected new-session flag, got %q", joined)
	}
	if !strings.HasSuffix(joined, "bash -c echo hi") {
		t.Fatalf("expected trailing bash -c invocation, got %q", joined)
	}
}

func TestBuildWritableRootfsWithOverlay(t *testing.T) {
	argv := Build("/usr/bin/bwrap", Config{
		RootfsDir: "/overlay/mount",
		Writable:  true,
		WorkDir:   "/tmp/work",
		Identity:  Identity{UID: 0, Username: "root"},
		Command:   "id",
	})

	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "--bind /overlay/mount /") {
		t.Fatalf("expected writable bind of overlay mount, got %q", joined)
	}
	if !strings.Contains(joined, "/root") {
		t.Fatalf("expected root home dir for root identity, got %q", joined)
	}
	if strings.Contains(joined, "--new-session") {
		t.Fatalf("did not expect new-session flag, got %q", joined)
	}
}

func TestExtraBindsAreAppendedInOrder(t *testing.T) {
	argv := Build("/usr/bin/bwrap", Config{
		RootfsDir: "/r", WorkDir: "/w", Identity: Identity{UID: 1000, Username: "sandbox"},
		Command: "true",
		ExtraBinds: []BindArg{
			{Flag: "--ro-bind", Args: []string{"/tmp/hosts", "/etc/hosts"}},
			{Flag: "--share-net"},
			{Flag: "--cap-add", Args: []string{"CAP_NET_RAW"}},
		},
	})
	joined := strings.Join(argv, " ")
	for _, want := range []string{"--ro-bind /tmp/hosts /etc/hosts", "--share-net", "--cap-add CAP_NET_RAW"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in argv, got %q", want, joined)
		}
	}
}
