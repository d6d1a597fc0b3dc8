package router

import (
	"encoding/json"
	"fmt"

	"github.com/zen-systems/quorum/pkg/config"
)

// Category is the topic type of a sub-question.
type Category int

const (
	Factual Category = iota
	Analytical
	Creative
	Technical
)

var categoryNames = [...]string{"FACTUAL", "ANALYTICAL", "CREATIVE", "TECHNICAL"}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	for i, name := range categoryNames {
		if string(b) == name {
			*c = Category(i)
			return nil
		}
	}
	return fmt.Errorf("unknown category %q", string(b))
}

// Expertise is the level of knowledge a sub-question needs.
type Expertise int

const (
	General Expertise = iota
	Specialized
	Expert
)

var expertiseNames = [...]string{"GENERAL", "SPECIALIZED", "EXPERT"}

func (e Expertise) String() string {
	if e < 0 || int(e) >= len(expertiseNames) {
		return fmt.Sprintf("Expertise(%d)", int(e))
	}
	return expertiseNames[e]
}

func (e Expertise) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Expertise) UnmarshalText(b []byte) error {
	for i, name := range expertiseNames {
		if string(b) == name {
			*e = Expertise(i)
			return nil
		}
	}
	return fmt.Errorf("unknown expertise %q", string(b))
}

// Backend is a model tier. Routing config maps each tier to an adapter and model.
type Backend int

const (
	// Fast is the cheapest, quickest tier.
	Fast Backend = iota
	// Economy is the low-cost general tier.
	Economy
	// Balanced is the mid tier and the table's default.
	Balanced
	// Frontier is the strongest tier and handles all coding work.
	Frontier
)

// Backends lists every tier in order.
var Backends = []Backend{Fast, Economy, Balanced, Frontier}

var backendTiers = [...]string{config.TierFast, config.TierEconomy, config.TierBalanced, config.TierFrontier}

// String returns the tier's key in routing config.
func (b Backend) String() string {
	if b < 0 || int(b) >= len(backendTiers) {
		return fmt.Sprintf("Backend(%d)", int(b))
	}
	return backendTiers[b]
}

func (b Backend) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Backend) UnmarshalText(text []byte) error {
	for i, name := range backendTiers {
		if string(text) == name {
			*b = Backend(i)
			return nil
		}
	}
	return fmt.Errorf("unknown backend %q", string(text))
}

// Classification is the classifier's verdict for one sub-question.
type Classification struct {
	Category  Category  `json:"category"`
	Expertise Expertise `json:"expertise"`
	Coding    bool      `json:"coding"`
}

// DefaultClassification is used when the classifier emits no markers or fails.
var DefaultClassification = Classification{Category: Analytical, Expertise: General}

func (c Classification) String() string {
	b, _ := json.Marshal(c)
	return string(b)
}
