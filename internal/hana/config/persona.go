package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed persona.yaml
var defaultPersona []byte

//go:embed persona.schema.json
var personaSchema []byte

const personaSchemaURL = "persona.schema.json"

// Persona is the user-facing text of the bot: prompts, canned replies and
// notification templates.
type Persona struct {
	Name       string `yaml:"name"`
	BasePrompt string `yaml:"base_prompt"`
	// Personalities maps a personality key to its system prompt block.
	Personalities map[string]string `yaml:"personalities"`
	States        StatePrompts      `yaml:"states"`
	Replies       Replies           `yaml:"replies"`
	Notifications Notifications     `yaml:"notifications"`
}

// StatePrompts are appended to the system prompt while a flag is set.
type StatePrompts struct {
	Sulking  string `yaml:"sulking"`
	DeepTalk string `yaml:"deep_talk"`
	Romance  string `yaml:"romance"`
}

// Replies are canned answers that never reach the model.
type Replies struct {
	Sleep            []string `yaml:"sleep"`
	Fallback         []string `yaml:"fallback"`
	RateLimited      []string `yaml:"rate_limited"`
	Empty            string   `yaml:"empty"`
	TooLong          string   `yaml:"too_long"`
	ImageUnsupported string   `yaml:"image_unsupported"`
}

// Notifications are sent by the sulk job on transitions.
type Notifications struct {
	SulkStarted []string `yaml:"sulk_started"`
	SulkEnded   []string `yaml:"sulk_ended"`
}

// Pick returns options[n(len(options))], or "" for an empty list.
func Pick(options []string, n func(int) int) string {
	if len(options) == 0 {
		return ""
	}
	return options[n(len(options))]
}

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(personaSchemaURL, bytes.NewReader(personaSchema)); err != nil {
		return nil, err
	}
	return c.Compile(personaSchemaURL)
})

// LoadPersona reads the persona document at path, or the embedded default
// when path is empty.
func LoadPersona(path string) (Persona, error) {
	data := defaultPersona
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return Persona{}, fmt.Errorf("config: read persona %s: %w", path, err)
		}
	}
	return ParsePersona(data)
}

// ParsePersona validates data against the persona schema and decodes it.
func ParsePersona(data []byte) (Persona, error) {
	schema, err := compileSchema()
	if err != nil {
		return Persona{}, fmt.Errorf("config: compile persona schema: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Persona{}, fmt.Errorf("config: parse persona: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON-native types.
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return Persona{}, fmt.Errorf("config: persona is not JSON-compatible: %w", err)
	}
	var doc any
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return Persona{}, fmt.Errorf("config: persona is not JSON-compatible: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Persona{}, fmt.Errorf("config: persona invalid: %w", err)
	}

	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("config: decode persona: %w", err)
	}
	return p, nil
}
