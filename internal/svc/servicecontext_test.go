package svc

import (
	"testing"

	"github.com/agencybridge/sidecar/internal/config"
	"github.com/agencybridge/sidecar/internal/logging"
)

func init() {
	logging.Disable()
}

func TestNewServiceContextRegistersProviders(t *testing.T) {
	svcCtx, err := NewServiceContext(config.Default())
	if err != nil {
		t.Fatalf("NewServiceContext: %v", err)
	}
	defer svcCtx.Close()

	for _, provider := range []string{"agencyzoom", "rpr", "mmi"} {
		if !svcCtx.Creds.Has(provider) {
			t.Errorf("provider %s not registered", provider)
		}
	}
	if svcCtx.Verifier == nil {
		t.Error("verifier not wired for agencyzoom")
	}
}

func TestNewServiceContextSkipsUnconfiguredProviders(t *testing.T) {
	c := config.Default()
	delete(c.Providers, "agencyzoom")

	svcCtx, err := NewServiceContext(c)
	if err != nil {
		t.Fatalf("NewServiceContext: %v", err)
	}
	defer svcCtx.Close()

	if svcCtx.Creds.Has("agencyzoom") {
		t.Error("agencyzoom registered without provider config")
	}
	if svcCtx.Verifier != nil {
		t.Error("verifier wired without an agencyzoom extractor")
	}
}
