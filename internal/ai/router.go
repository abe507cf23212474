package ai

import (
	"fmt"
	"strings"
	"sync"
)

const (
	FamilyOpenAI = "openai"
	FamilyXAI    = "xai"
)

// MisconfiguredError means the credential for a requested provider family is
// absent from the runtime environment. It names the missing variable so the
// operator can fix it; handlers surface it as a configuration error, not a
// generic internal fault.
type MisconfiguredError struct {
	Family     string
	Credential string
}

func (e *MisconfiguredError) Error() string {
	return fmt.Sprintf("provider %s is not configured: missing %s", e.Family, e.Credential)
}

// Resolution is the outcome of routing a requested model identifier.
type Resolution struct {
	Family        string
	ProviderModel string
	Provider      Provider
}

// Friendly model names per family. Unrecognized names fall back to the
// family default rather than erroring.
var openAIModels = map[string]string{
	"gpt-4o":       "gpt-4o",
	"gpt-4o-mini":  "gpt-4o-mini",
	"gpt-4.1":      "gpt-4.1",
	"gpt-4.1-mini": "gpt-4.1-mini",
}

const openAIDefaultModel = "gpt-4o-mini"

var xaiModels = map[string]string{
	"grok-4-fast-reasoning": "grok-4-fast-reasoning",
	"grok-4-fast":           "grok-4-fast-non-reasoning",
	"grok-3-mini":           "grok-3-mini",
}

const xaiDefaultModel = "grok-4-fast-reasoning"

type ProviderFactory func(family, providerModel string) Provider

// Router classifies a requested model identifier into a provider family,
// maps it to the provider-side model name, and checks the family credential.
type Router struct {
	OpenAIBaseURL string
	OpenAIAPIKey  string
	XAIBaseURL    string
	XAIAPIKey     string

	mu      sync.RWMutex
	factory ProviderFactory
}

func NewRouter(openAIBaseURL, openAIKey, xaiBaseURL, xaiKey string) *Router {
	r := &Router{
		OpenAIBaseURL: openAIBaseURL,
		OpenAIAPIKey:  openAIKey,
		XAIBaseURL:    xaiBaseURL,
		XAIAPIKey:     xaiKey,
	}
	r.factory = r.defaultFactory
	return r
}

// SetFactory overrides provider construction. Tests use this to route
// resolved models at fake providers.
func (r *Router) SetFactory(f ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = f
}

func (r *Router) defaultFactory(family, providerModel string) Provider {
	if family == FamilyXAI {
		return NewXAIProvider(r.XAIBaseURL, r.XAIAPIKey, providerModel)
	}
	return NewOpenAIProvider(r.OpenAIBaseURL, r.OpenAIAPIKey, providerModel)
}

// Resolve maps modelID to a configured provider. Names starting with "grok"
// route to the xAI family; everything else routes to OpenAI.
func (r *Router) Resolve(modelID string) (*Resolution, error) {
	name := strings.ToLower(strings.TrimSpace(modelID))

	family := FamilyOpenAI
	if strings.HasPrefix(name, "grok") {
		family = FamilyXAI
	}

	var providerModel, key, credential string
	switch family {
	case FamilyXAI:
		providerModel = xaiModels[name]
		if providerModel == "" {
			providerModel = xaiDefaultModel
		}
		key = r.XAIAPIKey
		credential = "XAI_API_KEY"
	default:
		providerModel = openAIModels[name]
		if providerModel == "" {
			providerModel = openAIDefaultModel
		}
		key = r.OpenAIAPIKey
		credential = "OPENAI_API_KEY"
	}

	if strings.TrimSpace(key) == "" {
		return nil, &MisconfiguredError{Family: family, Credential: credential}
	}

	r.mu.RLock()
	f := r.factory
	r.mu.RUnlock()

	return &Resolution{
		Family:        family,
		ProviderModel: providerModel,
		Provider:      f(family, providerModel),
	}, nil
}
