package models

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// requiredContextPaths are the nested fields a context document must carry
// before it is decoded. Decoding into the struct would zero-fill them.
var requiredContextPaths = []string{
	"urgencyLevel.level",
}

// ValidateContextJSON checks a raw context document for the fields the engine
// cannot default safely.
func ValidateContextJSON(raw []byte) error {
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("%w: invalid JSON", ErrMalformedContext)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return fmt.Errorf("%w: expected an object", ErrMalformedContext)
	}
	for _, path := range requiredContextPaths {
		if !doc.Get(path).Exists() {
			return fmt.Errorf("%w: missing %s", ErrMalformedContext, path)
		}
	}
	if flowData := doc.Get("flowData"); flowData.Exists() && !flowData.IsObject() {
		return fmt.Errorf("%w: flowData must be an object", ErrMalformedContext)
	}
	return nil
}

// ParseContextJSON validates and decodes a raw context document.
func ParseContextJSON(raw []byte) (ConversationContext, error) {
	var c ConversationContext
	if err := ValidateContextJSON(raw); err != nil {
		return c, err
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrMalformedContext, err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	if c.FlowData == nil {
		c.FlowData = map[string]string{}
	}
	return c, nil
}
