package sandbox

import (
	"errors"
	"testing"
)

func TestValidateConfigRejectsPersistWithoutOverlayPath(t *testing.T) {
	cfg := defaultConfig()
	cfg.persistOverlay = true
	cfg.overlay = true
	if err := validateConfig(cfg); !errors.Is(err, ErrPersistRequiresPath) {
		t.Fatalf("expected ErrPersistRequiresPath, got %v", err)
	}
}

func TestValidateConfigRejectsPersistWithoutOverlayEnabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.persistOverlay = true
	cfg.overlayPath = "/tmp/overlay"
	if err := validateConfig(cfg); !errors.Is(err, ErrPersistRequiresPath) {
		t.Fatalf("expected ErrPersistRequiresPath, got %v", err)
	}
}

func TestValidateConfigAllowsPersistWithPathAndOverlay(t *testing.T) {
	cfg := defaultConfig()
	cfg.persistOverlay = true
	cfg.overlay = true
	cfg.overlayPath = "/tmp/overlay"
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestDefaultConfigEnablesOutboundByDefault(t *testing.T) {
	cfg := defaultConfig()
	if !cfg.outbound {
		t.Fatalf("expected outbound enabled by default")
	}
	if cfg.sandboxUID != 1000 {
		t.Fatalf("expected default sandbox uid 1000, got %d", cfg.sandboxUID)
	}
}
