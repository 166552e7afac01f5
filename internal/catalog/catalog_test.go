package catalog

import (
	"strings"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	t.Run("catalog has models", func(t *testing.T) {
		if len(c.Models) != 8 {
			t.Errorf("expected 8 models, got %d", len(c.Models))
		}
	})

	t.Run("first model is the default flux", func(t *testing.T) {
		if c.Models[0].Key != "flux-schnell" {
			t.Errorf("unexpected first key: %s", c.Models[0].Key)
		}
	})

	t.Run("find openjourney", func(t *testing.T) {
		m := c.Find("openjourney")
		if m == nil {
			t.Fatal("openjourney not found")
		}
		if m.ID != "prompthero/openjourney" {
			t.Errorf("unexpected id: %s", m.ID)
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		if c.Find("FLUX-DEV") == nil || c.Find(" flux-dev ") == nil {
			t.Error("case-insensitive lookup failed")
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		if c.Find("non-existent-model") != nil || c.Has("non-existent-model") {
			t.Error("unexpected match for unknown key")
		}
	})

	t.Run("keys keep order", func(t *testing.T) {
		got := strings.Join(c.Keys(), ",")
		want := "flux-schnell,flux-dev,newreality-xl,sdxl-lora,stable-diffusion-xl,stable-diffusion-v2.1,stable-diffusion-v1.5,openjourney"
		if got != want {
			t.Errorf("keys = %s", got)
		}
	})
}
