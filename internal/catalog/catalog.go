// Package catalog holds the image models the generation service accepts.
package catalog

import "strings"

// Catalog is an ordered set of image models keyed by short name.
type Catalog struct {
	Models []ImageModel `json:"models"`
}

// ImageModel maps a short key to a hosted text-to-image model.
type ImageModel struct {
	Key         string `json:"key"`
	ID          string `json:"id"` // hub repo id, e.g. "black-forest-labs/FLUX.1-schnell"
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Default returns the built-in catalog
func Default() *Catalog {
	return &Catalog{
		Models: []ImageModel{
			{
				Key:         "flux-schnell",
				ID:          "black-forest-labs/FLUX.1-schnell",
				Name:        "FLUX Schnell",
				Description: "Fast and efficient model for quick generations",
			},
			{
				Key:         "flux-dev",
				ID:          "black-forest-labs/FLUX.1-dev",
				Name:        "FLUX Dev",
				Description: "Development version with latest features and improvements",
			},
			{
				Key:         "newreality-xl",
				ID:          "stablediffusionapi/newrealityxl-global-nsfw",
				Name:        "NewReality XL",
				Description: "Advanced model for high-quality photorealistic generations",
			},
			{
				Key:         "sdxl-lora",
				ID:          "stabilityai/stable-diffusion-xl-base-1.0",
				Name:        "SDXL LoRA",
				Description: "Fine-tuned SDXL model with LoRA for enhanced text-to-image generation",
			},
			{
				Key:         "stable-diffusion-xl",
				ID:          "stabilityai/stable-diffusion-xl-base-1.0",
				Name:        "Stable Diffusion XL",
				Description: "Latest version with significantly improved quality and photorealism",
			},
			{
				Key:         "stable-diffusion-v2.1",
				ID:          "stabilityai/stable-diffusion-2-1",
				Name:        "Stable Diffusion v2.1",
				Description: "Improved version with better quality and consistency",
			},
			{
				Key:         "stable-diffusion-v1.5",
				ID:          "runwayml/stable-diffusion-v1-5",
				Name:        "Stable Diffusion v1.5",
				Description: "Original stable diffusion model, good for general purpose image generation",
			},
			{
				Key:         "openjourney",
				ID:          "prompthero/openjourney",
				Name:        "Openjourney",
				Description: "Optimized for artistic and creative styles",
			},
		},
	}
}

// Find returns the model with the given key (case-insensitive) or nil.
func (c *Catalog) Find(key string) *ImageModel {
	key = strings.ToLower(strings.TrimSpace(key))
	for i := range c.Models {
		if strings.ToLower(c.Models[i].Key) == key {
			return &c.Models[i]
		}
	}
	return nil
}

// Has reports whether key names a catalog model.
func (c *Catalog) Has(key string) bool {
	return c.Find(key) != nil
}

// Keys returns the model keys in catalog order.
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.Models))
	for i, m := range c.Models {
		keys[i] = m.Key
	}
	return keys
}
